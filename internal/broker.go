package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexrz/auth-broker/internal/config"
	"github.com/flexrz/auth-broker/internal/cookie"
	"github.com/flexrz/auth-broker/internal/crypto"
	"github.com/flexrz/auth-broker/internal/handoff"
	"github.com/flexrz/auth-broker/internal/idp"
	"github.com/flexrz/auth-broker/internal/log"
	"github.com/flexrz/auth-broker/internal/pending"
	"github.com/flexrz/auth-broker/internal/redirect"
	"github.com/flexrz/auth-broker/internal/server"
	"github.com/flexrz/auth-broker/internal/session"
	"github.com/flexrz/auth-broker/internal/tenant"
	"github.com/flexrz/auth-broker/internal/urlutil"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Broker is the assembled auth broker application.
type Broker struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	resolver   *tenant.Service
}

// NewBroker builds every component from cfg. The returned broker owns the
// tenant resolver and must be Run or Closed.
func NewBroker(ctx context.Context, cfg config.Config) (*Broker, error) {
	log.LogInfoWithFields("broker", "Building auth broker", map[string]any{
		"authOrigin":  cfg.AuthOrigin,
		"apexDomain":  cfg.ApexDomain,
		"environment": string(cfg.Environment),
	})

	authOrigin, err := url.Parse(cfg.AuthOrigin)
	if err != nil {
		return nil, fmt.Errorf("invalid auth origin: %w", err)
	}

	hosts := urlutil.NewHostPolicy(cfg.ApexDomain, cfg.AllowedHosts, cfg.LocalDevHostsAllowed())
	policy := redirect.NewPolicy(authOrigin, urlutil.NewSanitizer(hosts))
	jar := cookie.NewJar(cfg.SecureCookies(), cfg.CookieDomain)

	keys, err := deriveKeys([]byte(cfg.Session.Secret))
	if err != nil {
		return nil, err
	}

	provider := idp.NewGoogleProvider(cfg.Google.ClientID, string(cfg.Google.ClientSecret), cfg.Google.RedirectURI).
		WithEndpoints(cfg.Google.AuthURL, cfg.Google.TokenURL, cfg.Google.UserInfoURL)

	sessions, err := session.NewManager(keys.session, jar, cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	sessions = sessions.WithRefresher(provider)

	resolver, err := tenant.New(ctx, cfg.TenantResolver)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tenant resolver: %w", err)
	}

	handlers, err := server.NewBrokerHandlers(server.Dependencies{
		Policy:      policy,
		Jar:         jar,
		Pending:     pending.NewStore(keys.pending, jar),
		Sessions:    sessions,
		IDP:         provider,
		Handoff:     handoff.NewSigner([]byte(cfg.Handoff.Secret), cfg.AuthOrigin, cfg.Handoff.Audience, cfg.Handoff.TTL),
		Resolver:    resolver,
		StateKey:    keys.state,
		AppOrigin:   cfg.AppOrigin(),
		FallbackURL: cfg.FallbackURL,
	})
	if err != nil {
		_ = resolver.Close()
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}

	handler := server.NewMux(handlers, hosts)
	return &Broker{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
		resolver:   resolver,
	}, nil
}

type brokerKeys struct {
	session []byte
	pending []byte
	state   []byte
}

// deriveKeys splits the session secret into one key per purpose.
func deriveKeys(secret []byte) (brokerKeys, error) {
	var keys brokerKeys
	var err error
	if keys.session, err = crypto.DeriveKey(secret, crypto.PurposeSessionEncryption); err != nil {
		return keys, err
	}
	if keys.pending, err = crypto.DeriveKey(secret, crypto.PurposePendingSigning); err != nil {
		return keys, err
	}
	if keys.state, err = crypto.DeriveKey(secret, crypto.PurposeStateSigning); err != nil {
		return keys, err
	}
	return keys, nil
}

// Handler returns the fully wrapped HTTP handler.
func (b *Broker) Handler() http.Handler {
	return b.handler
}

// Close releases the resources the broker owns without serving.
func (b *Broker) Close() error {
	return b.resolver.Close()
}

// Run serves until SIGINT, SIGTERM or a server error, then shuts down
// gracefully.
func (b *Broker) Run() error {
	log.LogInfoWithFields("broker", "Starting auth broker", map[string]any{
		"addr": b.config.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.resolver.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := b.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("broker", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("broker", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("broker", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := b.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("broker", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		_ = b.resolver.Close()
		return err
	}

	if err := b.resolver.Close(); err != nil {
		log.LogWarnWithFields("broker", "Tenant resolver shutdown error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("broker", "Shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}
