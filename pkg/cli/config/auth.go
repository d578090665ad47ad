package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Auth holds bearer token settings of the HTTP API
type Auth struct {
	jwtSecret string
	issuer    string
	noAuthn   string
}

func (x *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "jwt-secret",
			Usage:       "HMAC secret for bearer tokens (at least 32 bytes)",
			Category:    "Auth",
			Sources:     cli.EnvVars("CONCIERGE_JWT_SECRET"),
			Destination: &x.jwtSecret,
		},
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Usage:       "Expected token issuer",
			Category:    "Auth",
			Value:       "concierge",
			Sources:     cli.EnvVars("CONCIERGE_JWT_ISSUER"),
			Destination: &x.issuer,
		},
		&cli.StringFlag{
			Name:        "no-authn",
			Usage:       "Skip authentication and serve every request as this owner (development only)",
			Category:    "Auth",
			Sources:     cli.EnvVars("CONCIERGE_NO_AUTHN"),
			Destination: &x.noAuthn,
		},
	}
}

func (x *Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("jwt_secret_set", x.jwtSecret != ""),
		slog.String("issuer", x.issuer),
		slog.String("no_authn", x.noAuthn),
	)
}

// Configure returns the token verifier. Without a secret or a no-authn owner
// the API rejects every request.
func (x *Auth) Configure() (usecase.AuthUseCaseInterface, error) {
	if x.noAuthn != "" {
		owner := types.OwnerID(x.noAuthn)
		if err := owner.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid no-authn owner")
		}
		return usecase.NewNoAuthnUseCase(owner), nil
	}
	if x.jwtSecret == "" {
		return nil, nil
	}
	return usecase.NewAuthUseCase([]byte(x.jwtSecret), usecase.WithIssuer(x.issuer))
}

// Issuer returns a token issuer for the CLI
func (x *Auth) Issuer() (*usecase.AuthUseCase, error) {
	if x.jwtSecret == "" {
		return nil, goerr.Wrap(ErrMissingCredentials, "jwt-secret is required")
	}
	return usecase.NewAuthUseCase([]byte(x.jwtSecret), usecase.WithIssuer(x.issuer))
}
