package usecase

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// AuthUseCaseInterface resolves a bearer token to the owner it acts for
type AuthUseCaseInterface interface {
	Authenticate(ctx context.Context, token string) (types.OwnerID, error)
	IsNoAuthn() bool
}

// AuthUseCase verifies HS256 JWTs. The subject claim is the owner ID.
type AuthUseCase struct {
	key    []byte
	issuer string
	now    func() time.Time
}

type AuthOption func(*AuthUseCase)

// WithIssuer requires tokens to carry iss equal to issuer
func WithIssuer(issuer string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.issuer = issuer
	}
}

func WithAuthClock(now func() time.Time) AuthOption {
	return func(uc *AuthUseCase) {
		uc.now = now
	}
}

func NewAuthUseCase(secret []byte, opts ...AuthOption) (*AuthUseCase, error) {
	if len(secret) < 32 {
		return nil, goerr.New("JWT secret must be at least 32 bytes", goerr.V("length", len(secret)))
	}
	uc := &AuthUseCase{
		key: secret,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc, nil
}

func (uc *AuthUseCase) Authenticate(ctx context.Context, token string) (types.OwnerID, error) {
	if token == "" {
		return "", ErrNoAuthToken
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, uc.key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(uc.now)),
	}
	if uc.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(uc.issuer))
	}

	parsed, err := jwt.ParseString(token, parseOpts...)
	if err != nil {
		logging.From(ctx).Debug("token rejected", "error", err.Error())
		return "", goerr.Wrap(ErrInvalidToken, "failed to verify token", goerr.V("reason", err.Error()))
	}

	owner := types.OwnerID(parsed.Subject())
	if err := owner.Validate(); err != nil {
		return "", goerr.Wrap(ErrInvalidToken, "token subject is not a valid owner", goerr.V("subject", parsed.Subject()))
	}
	return owner, nil
}

func (uc *AuthUseCase) IsNoAuthn() bool {
	return false
}

// Issue signs a token for owner valid for ttl. Used by the CLI and tests.
func (uc *AuthUseCase) Issue(owner types.OwnerID, ttl time.Duration) (string, error) {
	if err := owner.Validate(); err != nil {
		return "", goerr.Wrap(err, "invalid owner")
	}
	now := uc.now()
	builder := jwt.NewBuilder().
		Subject(owner.String()).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if uc.issuer != "" {
		builder = builder.Issuer(uc.issuer)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", goerr.Wrap(err, "failed to build token")
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, uc.key))
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign token")
	}
	return string(signed), nil
}

// NoAuthnUseCase accepts every request as a fixed owner. Development only.
type NoAuthnUseCase struct {
	owner types.OwnerID
}

func NewNoAuthnUseCase(owner types.OwnerID) *NoAuthnUseCase {
	return &NoAuthnUseCase{owner: owner}
}

func (uc *NoAuthnUseCase) Authenticate(ctx context.Context, token string) (types.OwnerID, error) {
	return uc.owner, nil
}

func (uc *NoAuthnUseCase) IsNoAuthn() bool {
	return true
}
