package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// authenticator produces the value of the Authorization header for each
// outbound request, refreshing itself as needed.
type authenticator interface {
	header() (string, error)
}

// noAuth never sets a header.
type noAuth struct{}

func (noAuth) header() (string, error) { return "", nil }

// bearerAuth inserts a fixed static token.
type bearerAuth struct {
	token string
}

func (b bearerAuth) header() (string, error) {
	if b.token == "" {
		return "", nil
	}
	return "Bearer " + b.token, nil
}

// jwtClaims carries only what the remote browser server expects; no
// per-user identity, since the caller is a service, not a user.
type jwtClaims struct {
	jwt.RegisteredClaims
}

// jwtAuth signs short-lived tokens and refreshes them once their
// remaining lifetime drops below jwtRefreshThreshold of their total TTL, per
// the transport's authentication mode in the component design.
type jwtAuth struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration

	mu        sync.Mutex
	current   string
	issuedAt  time.Time
	expiresAt time.Time
}

const jwtRefreshThreshold = 0.10

func newJWTAuth(cfg config.RemoteConfig) *jwtAuth {
	ttl := 5 * time.Minute
	return &jwtAuth{
		signingKey: []byte(cfg.JWTSigningKey),
		issuer:     cfg.JWTIssuer,
		ttl:        ttl,
	}
}

func (j *jwtAuth) header() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.current == "" || j.needsRefreshLocked() {
		if err := j.mintLocked(); err != nil {
			return "", err
		}
	}
	return "Bearer " + j.current, nil
}

func (j *jwtAuth) needsRefreshLocked() bool {
	total := j.expiresAt.Sub(j.issuedAt)
	if total <= 0 {
		return true
	}
	remaining := time.Until(j.expiresAt)
	return float64(remaining) < float64(total)*jwtRefreshThreshold
}

func (j *jwtAuth) mintLocked() error {
	now := time.Now()
	expires := now.Add(j.ttl)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return fmt.Errorf("transport: sign jwt: %w", err)
	}

	j.current = signed
	j.issuedAt = now
	j.expiresAt = expires
	return nil
}

func newAuthenticator(cfg config.RemoteConfig) (authenticator, error) {
	switch cfg.AuthMode {
	case types.AuthNone:
		return noAuth{}, nil
	case types.AuthBearer:
		return bearerAuth{token: cfg.BearerToken}, nil
	case types.AuthJWT:
		if cfg.JWTSigningKey == "" {
			return nil, fmt.Errorf("transport: jwt auth mode requires jwt_signing_key")
		}
		return newJWTAuth(cfg), nil
	default:
		return noAuth{}, nil
	}
}
