package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/cli/config"
	httpctrl "github.com/secmon-lab/concierge/pkg/controller/http"
	domaincfg "github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/service/policy"
	"github.com/secmon-lab/concierge/pkg/service/worker"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var allowedOrigins []string
	var watchPolicy bool
	var appCfg appConfig
	var authCfg config.Auth

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("CONCIERGE_ADDR"),
			Destination: &addr,
		},
		&cli.StringSliceFlag{
			Name:        "allowed-origin",
			Usage:       "Origin allowed for browser clients (CORS); repeatable",
			Sources:     cli.EnvVars("CONCIERGE_ALLOWED_ORIGINS"),
			Destination: &allowedOrigins,
		},
		&cli.BoolFlag{
			Name:        "watch-policy",
			Usage:       "Reload the policy file when it changes",
			Value:       true,
			Category:    "Policy",
			Sources:     cli.EnvVars("CONCIERGE_WATCH_POLICY"),
			Destination: &watchPolicy,
		},
	}
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			authUC, err := authCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure authentication")
			}
			switch {
			case authUC == nil:
				logging.Default().Warn("No jwt-secret configured; every API request will be rejected")
			case authUC.IsNoAuthn():
				logging.Default().Warn("Running in no-authn mode (development only)", "auth", &authCfg)
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			a, err := appCfg.build(ctx, usecase.WithAuth(authUC))
			if err != nil {
				return err
			}
			defer a.Close()

			probe := worker.NewHealthProbeWorker(a.health, a.registry, a.policies)
			if err := probe.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start health probe worker")
			}
			defer probe.Stop()

			if watchPolicy {
				watcher := policy.NewWatcher(appCfg.policy.Path(), config.LoadPolicy, a.policies,
					policy.WithOnReload(func(p *domaincfg.Policy) {
						a.Apply(ctx, p)
					}),
				)
				if err := watcher.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start policy watcher")
				}
				defer watcher.Stop()
			}

			httpOpts := []httpctrl.Options{
				httpctrl.WithBudget(a.uc.Budget),
				httpctrl.WithAllowedOrigins(allowedOrigins),
			}
			if authUC != nil {
				httpOpts = append(httpOpts, httpctrl.WithAuth(authUC))
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(a.uc.Broker, a.uc.Memory, httpOpts...),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr, "policy", &appCfg.policy)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelShutdown()

				// in-flight requests finish before background workers stop
				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
