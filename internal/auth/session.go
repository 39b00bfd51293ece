// Package auth provides the bearer token of the signed-in user.
//
// The token is issued by the account service and either configured inline
// or kept in a file that an external sign-in helper refreshes. Signatures
// are not verified here; the API does that. The session only rejects tokens
// that are absent or visibly expired so a sync fails fast instead of
// collecting a round of 401s.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when no usable token is available.
var ErrNoSession = errors.New("no active session")

// expiryLeeway treats a token that expires within this window as expired.
const expiryLeeway = 30 * time.Second

// Info describes the current token.
type Info struct {
	Subject   string
	Email     string
	ExpiresAt time.Time // zero for opaque or non-expiring tokens
}

// Session reads the token on every call, so a refreshed token file is
// picked up without a restart.
type Session struct {
	token     string
	tokenFile string
	now       func() time.Time
}

// NewSession returns a session backed by an inline token or, when token is
// empty, by the contents of tokenFile.
func NewSession(token, tokenFile string) *Session {
	return &Session{
		token:     strings.TrimSpace(token),
		tokenFile: tokenFile,
		now:       time.Now,
	}
}

// Token returns the current bearer token.
func (s *Session) Token(ctx context.Context) (string, error) {
	tok, _, err := s.current(ctx)
	return tok, err
}

// Info returns details of the current token.
func (s *Session) Info(ctx context.Context) (Info, error) {
	_, info, err := s.current(ctx)
	return info, err
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (s *Session) current(ctx context.Context) (string, Info, error) {
	if err := ctx.Err(); err != nil {
		return "", Info{}, err
	}

	tok, err := s.read()
	if err != nil {
		return "", Info{}, err
	}

	// Opaque tokens carry no expiry we could check.
	if strings.Count(tok, ".") != 2 {
		return tok, Info{}, nil
	}

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &c); err != nil {
		return "", Info{}, fmt.Errorf("%w: malformed token: %w", ErrNoSession, err)
	}
	info := Info{Subject: c.Subject, Email: c.Email}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
		if !s.now().Add(expiryLeeway).Before(info.ExpiresAt) {
			return "", info, fmt.Errorf("%w: token expired at %s", ErrNoSession, info.ExpiresAt.Format(time.RFC3339))
		}
	}
	return tok, info, nil
}

func (s *Session) read() (string, error) {
	if s.token != "" {
		return s.token, nil
	}
	if s.tokenFile == "" {
		return "", fmt.Errorf("%w: no token configured", ErrNoSession)
	}

	data, err := os.ReadFile(s.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: token file %s does not exist", ErrNoSession, s.tokenFile)
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%w: token file %s is empty", ErrNoSession, s.tokenFile)
	}
	return tok, nil
}
