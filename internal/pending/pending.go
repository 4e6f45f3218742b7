// Package pending tracks the post-login destination across the OAuth round trip.
//
// The state lives in one signed cookie and moves through three states:
//
//	none -> pending (sign-in entry) -> consumed (return bridge)
//
// A new sign-in overwrites whatever state is present. The OAuth callback
// re-asserts a pending state without changing it.
package pending

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flexrz/auth-broker/internal/cookie"
	"github.com/flexrz/auth-broker/internal/crypto"
	"github.com/flexrz/auth-broker/internal/log"
)

// Status names a pending-return state.
type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusConsumed Status = "consumed"
)

// TTL bounds how long a signed pending state stays valid.
const TTL = time.Hour

// ErrInvalid is returned when the cookie is present but cannot be trusted.
var ErrInvalid = errors.New("invalid pending state")

// State is the decoded pending-return cookie.
type State struct {
	Status      Status    `json:"state"`
	Destination string    `json:"destination,omitempty"`
	OriginHost  string    `json:"originHost,omitempty"`
	Nonce       string    `json:"nonce,omitempty"`
	IssuedAt    time.Time `json:"issuedAt,omitzero"`
}

// IsPending reports whether the state still carries an unconsumed destination.
func (s State) IsPending() bool {
	return s.Status == StatusPending && s.Destination != ""
}

// Store reads and writes State through the cookie jar.
type Store struct {
	signer crypto.TokenSigner
	jar    *cookie.Jar
	now    func() time.Time
}

// NewStore creates a store signing with key.
func NewStore(key []byte, jar *cookie.Jar) *Store {
	return &Store{
		signer: crypto.NewTokenSigner(key, TTL),
		jar:    jar,
		now:    time.Now,
	}
}

// WithClock returns a copy of the store that reads time from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	cp := *s
	cp.now = now
	cp.signer = s.signer.WithClock(now)
	return &cp
}

// Begin starts a new pending return, replacing any previous state.
func (s *Store) Begin(w http.ResponseWriter, destination, originHost string) (State, error) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return State{}, fmt.Errorf("generating pending nonce: %w", err)
	}
	st := State{
		Status:      StatusPending,
		Destination: destination,
		OriginHost:  originHost,
		Nonce:       nonce,
		IssuedAt:    s.now().UTC().Truncate(time.Second),
	}
	if err := s.Save(w, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Load returns the current state. A missing cookie yields StatusNone with no
// error; a tampered or expired cookie yields StatusNone and ErrInvalid.
func (s *Store) Load(r *http.Request) (State, error) {
	raw := s.jar.Pending(r)
	if raw == "" {
		return State{Status: StatusNone}, nil
	}
	st, err := s.Decode(raw)
	if err != nil {
		return State{Status: StatusNone}, err
	}
	return st, nil
}

// Save writes st to the pending cookie.
func (s *Store) Save(w http.ResponseWriter, st State) error {
	value, err := s.Encode(st)
	if err != nil {
		return err
	}
	s.jar.SetPending(w, value)
	log.LogTraceWithFields("pending", "Pending state saved", map[string]any{
		"state":      st.Status,
		"originHost": st.OriginHost,
	})
	return nil
}

// Consume marks st consumed. Only a pending state can be consumed.
func (s *Store) Consume(w http.ResponseWriter, st State) error {
	if st.Status != StatusPending {
		return nil
	}
	st.Status = StatusConsumed
	return s.Save(w, st)
}

// Encode signs st into a cookie value.
func (s *Store) Encode(st State) (string, error) {
	switch st.Status {
	case StatusNone, StatusPending, StatusConsumed:
	default:
		return "", fmt.Errorf("unknown pending status %q", st.Status)
	}
	token, err := s.signer.Sign(st)
	if err != nil {
		return "", fmt.Errorf("signing pending state: %w", err)
	}
	return token, nil
}

// Decode verifies and decodes a cookie value.
func (s *Store) Decode(value string) (State, error) {
	var st State
	if err := s.signer.Verify(value, &st); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch st.Status {
	case StatusNone, StatusPending, StatusConsumed:
	default:
		return State{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, st.Status)
	}
	return st, nil
}
