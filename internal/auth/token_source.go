package auth

import (
	"sync"
	"time"
)

// TokenSource mints bearer tokens for outbound requests and reuses one until
// it is close to expiry.
type TokenSource struct {
	cfg     Config
	subject string
	role    string
	scopes  []string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource constructs a TokenSource for the given identity.
func NewTokenSource(cfg Config, subject, role string, scopes []string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenSource{
		cfg:     cfg,
		subject: subject,
		role:    role,
		scopes:  scopes,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Token returns a valid token, minting a new one when the cached token has
// less than a tenth of its lifetime left.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(s.ttl/10).Before(s.expires) {
		return s.token, nil
	}
	token, err := Mint(s.cfg, s.subject, s.role, s.scopes, s.ttl)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = s.now().Add(s.ttl)
	return token, nil
}
