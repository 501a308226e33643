// Package auth resolves the client's identity and obtains a bearer token from the backend.
//
// The session moves Unauthenticated -> Registering -> Authorizing -> Authenticated. Every
// failure is final for the current launch: nothing is retried, and the next cold start calls
// Bootstrap again.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"fotobudka/internal/domain"
	"fotobudka/internal/gateway"
	"fotobudka/internal/infra"
)

const (
	pathRegister  = "/api/users"
	pathAuthorize = "/api/users/authorize"
)

// State is the session's position in the auth flow.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateRegistering     State = "registering"
	StateAuthorizing     State = "authorizing"
	StateAuthenticated   State = "authenticated"
)

// ErrAlreadyRegistered is returned when the backend reports the identity exists and no user id
// was stored to authorize with.
var ErrAlreadyRegistered = errors.New("auth: identity already registered and no stored user id")

// Backend is the gateway call the session needs.
type Backend interface {
	Do(ctx context.Context, method, path string, body any, useAuth bool, out any) error
}

// BalanceSink receives the balance returned on registration.
type BalanceSink interface {
	Set(tokens, avatarTokens int)
}

// Options configures a Session.
type Options struct {
	Backend  Backend
	Store    CredentialStore
	Identity IdentityProvider
	Balance  BalanceSink
	Logger   *infra.Logger
}

type registerRequest struct {
	ExternalID string `json:"external_id"`
}

type registerResponse struct {
	ID           string `json:"id"`
	Tokens       int    `json:"tokens"`
	AvatarTokens int    `json:"avatar_tokens"`
}

type authorizeRequest struct {
	UserID string `json:"user_id"`
}

type authorizeResponse struct {
	AccessToken string `json:"access_token"`
}

// Session holds the credentials of the current user. It implements gateway.TokenSource.
type Session struct {
	backend  Backend
	store    CredentialStore
	identity IdentityProvider
	balance  BalanceSink
	logger   *infra.Logger

	flow sync.Mutex // serializes Bootstrap, Register and Authorize

	mu    sync.RWMutex
	state State
	creds domain.SessionCredentials
}

// NewSession loads stored credentials. A stored token makes the session authenticated
// immediately.
func NewSession(opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, errors.New("auth: backend is required")
	}
	if opts.Store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	creds, err := opts.Store.Load()
	if err != nil {
		return nil, err
	}
	s := &Session{
		backend:  opts.Backend,
		store:    opts.Store,
		identity: opts.Identity,
		balance:  opts.Balance,
		logger:   infra.OrDiscard(opts.Logger),
		state:    StateUnauthenticated,
		creds:    creds,
	}
	if creds.AccessToken != "" {
		s.state = StateAuthenticated
	}
	return s, nil
}

// State returns the current auth state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AccessToken returns the bearer token, empty until authenticated.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

// Credentials returns a copy of the stored credentials.
func (s *Session) Credentials() domain.SessionCredentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Bootstrap brings the session to Authenticated if it can. With a token it does nothing; with a
// stored user id it authorizes; otherwise it resolves an identity from the configured provider
// and registers. A provider failure is not replaced by another provider.
func (s *Session) Bootstrap(ctx context.Context) error {
	s.flow.Lock()
	defer s.flow.Unlock()

	creds := s.Credentials()
	if creds.AccessToken != "" {
		s.setState(StateAuthenticated)
		return nil
	}
	if creds.UserID != "" {
		return s.authorize(ctx, creds.UserID)
	}
	if s.identity == nil {
		s.logger.Warn().Msg("auth: no identity provider configured")
		return domain.ErrNoIdentity
	}
	externalID, err := s.identity.ExternalID(ctx)
	externalID = strings.TrimSpace(externalID)
	if err != nil || externalID == "" {
		s.logger.Warn().Err(err).Msg("auth: identity not resolved")
		switch {
		case err == nil:
			return domain.ErrNoIdentity
		case errors.Is(err, domain.ErrNoIdentity):
			return err
		default:
			return fmt.Errorf("%w: %w", domain.ErrNoIdentity, err)
		}
	}
	return s.register(ctx, externalID)
}

// Register creates the backend user for externalID and authorizes it.
func (s *Session) Register(ctx context.Context, externalID string) error {
	s.flow.Lock()
	defer s.flow.Unlock()
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.ErrNoIdentity
	}
	return s.register(ctx, externalID)
}

// Authorize exchanges userID for a bearer token.
func (s *Session) Authorize(ctx context.Context, userID string) error {
	s.flow.Lock()
	defer s.flow.Unlock()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("auth: user id is required")
	}
	return s.authorize(ctx, userID)
}

func (s *Session) register(ctx context.Context, externalID string) error {
	s.setState(StateRegistering)
	var resp registerResponse
	err := s.backend.Do(ctx, http.MethodPost, pathRegister, registerRequest{ExternalID: externalID}, false, &resp)
	if err != nil {
		if gateway.StatusCode(err) == http.StatusUnprocessableEntity {
			stored := s.Credentials().UserID
			if stored == "" {
				s.setState(StateUnauthenticated)
				s.logger.Warn().Str("external_id", externalID).Msg("auth: already registered, no stored user id")
				return ErrAlreadyRegistered
			}
			s.logger.Info().Str("user_id", stored).Msg("auth: already registered, authorizing stored user")
			return s.authorize(ctx, stored)
		}
		s.setState(StateUnauthenticated)
		s.logger.Error().Err(err).Msg("auth: register failed")
		return fmt.Errorf("auth: register: %w", err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		s.setState(StateUnauthenticated)
		return fmt.Errorf("auth: register: %w", &gateway.DecodingError{Err: errors.New("response has no user id")})
	}

	if err := s.update(func(c *domain.SessionCredentials) {
		c.ExternalID = externalID
		c.UserID = resp.ID
	}); err != nil {
		s.setState(StateUnauthenticated)
		return err
	}
	if s.balance != nil {
		s.balance.Set(resp.Tokens, resp.AvatarTokens)
	}
	s.logger.Info().Str("user_id", resp.ID).Msg("auth: registered")
	return s.authorize(ctx, resp.ID)
}

func (s *Session) authorize(ctx context.Context, userID string) error {
	s.setState(StateAuthorizing)
	var resp authorizeResponse
	if err := s.backend.Do(ctx, http.MethodPost, pathAuthorize, authorizeRequest{UserID: userID}, false, &resp); err != nil {
		s.setState(StateUnauthenticated)
		s.logger.Error().Err(err).Str("user_id", userID).Msg("auth: authorize failed")
		return fmt.Errorf("auth: authorize: %w", err)
	}
	token := strings.TrimSpace(resp.AccessToken)
	if token == "" {
		s.setState(StateUnauthenticated)
		return fmt.Errorf("auth: authorize: %w", &gateway.DecodingError{Err: errors.New("response has no access token")})
	}
	if err := s.update(func(c *domain.SessionCredentials) {
		c.UserID = userID
		c.AccessToken = token
	}); err != nil {
		s.setState(StateUnauthenticated)
		return err
	}
	s.setState(StateAuthenticated)
	s.logger.Info().Str("user_id", userID).Msg("auth: authenticated")
	return nil
}

// update applies fn to a copy of the credentials, persists it and only then publishes it.
func (s *Session) update(fn func(*domain.SessionCredentials)) error {
	next := s.Credentials()
	fn(&next)
	if err := s.store.Save(next); err != nil {
		s.logger.Error().Err(err).Msg("auth: persist credentials failed")
		return err
	}
	s.mu.Lock()
	s.creds = next
	s.mu.Unlock()
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
