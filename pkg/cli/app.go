package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/cli/config"
	domaincfg "github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/service/budget"
	"github.com/secmon-lab/concierge/pkg/service/classifier"
	"github.com/secmon-lab/concierge/pkg/service/executor"
	"github.com/secmon-lab/concierge/pkg/service/health"
	"github.com/secmon-lab/concierge/pkg/service/notify"
	"github.com/secmon-lab/concierge/pkg/service/policy"
	"github.com/secmon-lab/concierge/pkg/service/provider"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// appConfig gathers the settings shared by commands that run the broker
type appConfig struct {
	policy    config.Policy
	repo      config.Repository
	llm       config.LLM
	crypto    config.Crypto
	rateLimit config.RateLimit
	notify    config.Notify
}

func (x *appConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.policy.Flags()...)
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.llm.Flags()...)
	flags = append(flags, x.crypto.Flags()...)
	flags = append(flags, x.rateLimit.Flags()...)
	flags = append(flags, x.notify.Flags()...)
	return flags
}

// app is the wired broker with everything that must be started or closed
type app struct {
	policies   *policy.Store
	registry   *provider.Registry
	factory    provider.ClientFactory
	health     *health.Table
	ledger     *budget.Ledger
	dispatcher *notify.Dispatcher
	uc         *usecase.UseCases
	closers    []func()
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Apply registers providers of a reloaded policy and syncs the health table
func (a *app) Apply(ctx context.Context, p *domaincfg.Policy) {
	if err := a.registry.Build(ctx, p.Providers, a.factory); err != nil {
		logging.From(ctx).Error("failed to register providers of reloaded policy", "error", err.Error())
	}
	a.health.Sync(p.Providers)
}

func (x *appConfig) build(ctx context.Context, opts ...usecase.Option) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	initial, err := x.policy.Configure()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policy")
	}
	a.policies = policy.NewStore(initial)

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize repository")
	}
	a.closers = append(a.closers, func() {
		if err := repo.Close(); err != nil {
			logging.Default().Error("failed to close repository", "error", err.Error())
		}
	})

	cipher, err := x.crypto.Configure(ctx, false)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure encryption")
	}

	a.dispatcher, err = x.notify.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure notifications")
	}
	a.dispatcher.Start(ctx)
	a.closers = append(a.closers, a.dispatcher.Stop)

	a.factory = provider.NewClientFactory(x.llm.Credentials())
	a.registry = provider.NewRegistry()
	if err := a.registry.Build(ctx, initial.Providers, a.factory); err != nil {
		return nil, goerr.Wrap(err, "failed to register providers")
	}

	a.health = health.New(health.WithNotifier(a.dispatcher))
	a.health.Sync(initial.Providers)

	a.ledger = budget.New(repo.Usage(), budget.WithNotifier(a.dispatcher))
	if err := a.ledger.Load(ctx, initial.Budget); err != nil {
		return nil, goerr.Wrap(err, "failed to load budget ledger")
	}

	embedder, err := x.llm.ConfigureEmbedding(ctx, a.policies, a.registry, a.ledger)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure embeddings")
	}

	limiter, closeLimiter, err := x.rateLimit.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure rate limiter")
	}
	a.closers = append(a.closers, closeLimiter)

	exec := executor.New(a.registry, a.ledger, a.health)

	ucOpts := []usecase.Option{
		usecase.WithLedger(a.ledger),
		usecase.WithBrokerOptions(
			usecase.WithLimiter(limiter),
			usecase.WithHealthView(a.health),
			usecase.WithClassifier(domaincfg.ClassifierLLM,
				classifier.NewProviderLLM(a.registry, a.policies, initial.Context.HistoryLimit,
					classifier.WithLedger(a.ledger))),
		),
	}
	a.uc = usecase.New(repo, embedder, cipher, a.policies, exec, append(ucOpts, opts...)...)

	logging.Default().Info("broker configured",
		"providers", len(initial.Providers),
		"classifier", initial.Classifier.Kind,
		"embedding_dimension", embedder.Dimension(),
	)
	return a, nil
}
