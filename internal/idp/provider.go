// Package idp wraps the upstream identity provider. Only Google is supported.
package idp

import (
	"context"

	"golang.org/x/oauth2"
)

// UserInfo is the identity returned by the provider's userinfo endpoint.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Provider abstracts identity provider operations.
type Provider interface {
	// AuthURL generates the authorization URL for the OAuth flow.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// UserInfo fetches the signed-in user's identity.
	UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)

	// Refresh trades a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// IDToken returns the OpenID Connect ID token carried next to an access token,
// or "" when the provider sent none.
func IDToken(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	if v, ok := token.Extra("id_token").(string); ok {
		return v
	}
	return ""
}
