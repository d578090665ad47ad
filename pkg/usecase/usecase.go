package usecase

import (
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

type UseCases struct {
	repo       interfaces.Repository
	embedder   interfaces.Embedder
	cipher     interfaces.Cipher
	policies   PolicySource
	executor   Executor
	ledger     BudgetView
	clock      clock.Clock
	brokerOpts []BrokerOption

	Broker *BrokerUseCase
	Memory *MemoryUseCase
	Budget *BudgetUseCase
	Auth   AuthUseCaseInterface
}

type Option func(*UseCases)

func WithAuth(auth AuthUseCaseInterface) Option {
	return func(uc *UseCases) {
		uc.Auth = auth
	}
}

func WithLedger(ledger BudgetView) Option {
	return func(uc *UseCases) {
		uc.ledger = ledger
	}
}

func WithClock(c clock.Clock) Option {
	return func(uc *UseCases) {
		uc.clock = c
	}
}

// WithBrokerOptions passes options through to the broker
func WithBrokerOptions(opts ...BrokerOption) Option {
	return func(uc *UseCases) {
		uc.brokerOpts = append(uc.brokerOpts, opts...)
	}
}

func New(repo interfaces.Repository, embedder interfaces.Embedder, cipher interfaces.Cipher, policies PolicySource, exec Executor, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:     repo,
		embedder: embedder,
		cipher:   cipher,
		policies: policies,
		executor: exec,
		clock:    clock.Real(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Memory = NewMemoryUseCase(repo, embedder, cipher, uc.clock)
	assembler := NewContextAssembler(repo, embedder, cipher)

	brokerOpts := []BrokerOption{WithBrokerClock(uc.clock)}
	if uc.ledger != nil {
		brokerOpts = append(brokerOpts, WithBudgetView(uc.ledger))
		uc.Budget = NewBudgetUseCase(policies, uc.ledger)
	}
	brokerOpts = append(brokerOpts, uc.brokerOpts...)
	uc.Broker = NewBrokerUseCase(repo, policies, uc.Memory, assembler, exec, brokerOpts...)

	return uc
}
