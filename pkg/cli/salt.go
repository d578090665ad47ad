package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/cli/config"
	"github.com/secmon-lab/concierge/pkg/service/crypto"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdSalt() *cli.Command {
	return &cli.Command{
		Name:  "salt",
		Usage: "Manage the installation salt the encryption key is derived from",
		Commands: []*cli.Command{
			cmdSaltInit(),
			cmdSaltShow(),
		},
	}
}

func cmdSaltInit() *cli.Command {
	var cryptoCfg config.Crypto

	return &cli.Command{
		Name:  "init",
		Usage: "Create the installation salt. An existing salt is never replaced.",
		Flags: cryptoCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			store, closer, err := cryptoCfg.SaltStore(ctx)
			if err != nil {
				return err
			}
			defer closer()

			salt, err := crypto.GenerateSalt()
			if err != nil {
				return err
			}
			if err := store.Create(ctx, salt); err != nil {
				if errors.Is(err, crypto.ErrSaltExists) {
					logging.Default().Warn("Salt already exists; keeping it", "location", store.Location())
					return nil
				}
				return goerr.Wrap(err, "failed to create salt", goerr.V("location", store.Location()))
			}

			logging.Default().Info("Salt created", "location", store.Location())
			return printSalt(os.Stdout, store.Location(), salt)
		},
	}
}

func cmdSaltShow() *cli.Command {
	var cryptoCfg config.Crypto

	return &cli.Command{
		Name:  "show",
		Usage: "Show the salt location and fingerprint",
		Flags: cryptoCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			store, closer, err := cryptoCfg.SaltStore(ctx)
			if err != nil {
				return err
			}
			defer closer()

			salt, err := crypto.LoadOrCreateSalt(ctx, store, false)
			if err != nil {
				return err
			}
			return printSalt(os.Stdout, store.Location(), salt)
		},
	}
}

// printSalt prints a fingerprint only; the salt itself stays in its store
func printSalt(w io.Writer, location string, salt []byte) error {
	sum := sha256.Sum256(salt)
	_, err := fmt.Fprintf(w, "location:    %s\nfingerprint: %s\n", location, hex.EncodeToString(sum[:8]))
	return err
}
