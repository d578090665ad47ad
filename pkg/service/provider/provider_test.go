package provider_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/mock"
	"github.com/m-mizutani/gt"
	"github.com/sashabaranov/go-openai"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/provider"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestFailureClassification(t *testing.T) {
	testCases := map[string]struct {
		err       error
		retryable bool
	}{
		"deadline":          {context.DeadlineExceeded, true},
		"wrapped deadline":  {goerr.Wrap(context.DeadlineExceeded, "call"), true},
		"openai 429":        {&openai.APIError{HTTPStatusCode: 429}, true},
		"openai 500":        {goerr.Wrap(&openai.APIError{HTTPStatusCode: 500}, "call"), true},
		"openai 401":        {&openai.APIError{HTTPStatusCode: 401}, false},
		"openai request":    {&openai.RequestError{HTTPStatusCode: 400, Err: errors.New("bad")}, false},
		"claude 529":        {&anthropic.Error{StatusCode: 529}, true},
		"claude 403":        {&anthropic.Error{StatusCode: 403}, false},
		"genai 503":         {genai.APIError{Code: 503}, true},
		"genai 400":         {genai.APIError{Code: 400}, false},
		"grpc unavailable":  {status.Error(codes.Unavailable, "down"), true},
		"grpc exhausted":    {status.Error(codes.ResourceExhausted, "quota"), true},
		"grpc unauth":       {status.Error(codes.Unauthenticated, "key"), false},
		"grpc invalid":      {status.Error(codes.InvalidArgument, "schema"), false},
		"network":           {&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		"unknown":           {errors.New("something odd"), true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			out := provider.Failure(tc.err)
			switch out.(type) {
			case model.RetryableFailure:
				gt.Bool(t, tc.retryable).True()
			case model.FatalFailure:
				gt.Bool(t, tc.retryable).False()
			default:
				t.Fatalf("unexpected outcome %T", out)
			}
		})
	}

	t.Run("reasons are descriptive", func(t *testing.T) {
		out := provider.Failure(&openai.APIError{HTTPStatusCode: 429}).(model.RetryableFailure)
		gt.String(t, out.Reason).Contains("rate limited")

		fatal := provider.Failure(&openai.APIError{HTTPStatusCode: 401}).(model.FatalFailure)
		gt.String(t, fatal.Reason).Contains("authentication")
	})
}

func newClient(generate func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error)) (*mock.LLMClientMock, *mock.SessionMock) {
	session := &mock.SessionMock{
		GenerateFunc: generate,
		CountTokenFunc: func(ctx context.Context, input ...gollem.Input) (int, error) {
			return 1, nil
		},
	}
	client := &mock.LLMClientMock{
		NewSessionFunc: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
			return session, nil
		},
	}
	return client, session
}

var claudeCfg = config.Provider{
	ID:              "claude",
	Backend:         provider.BackendClaude,
	Tier:            types.TierQuality,
	InputCostPer1K:  0.003,
	OutputCostPer1K: 0.015,
}

func TestLLMGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("success carries tokens and cost", func(t *testing.T) {
		var received string
		client, _ := newClient(func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
			received = string(input[0].(gollem.Text))
			return &gollem.Response{Texts: []string{"Paris is ", "the capital."}}, nil
		})
		p, err := provider.NewLLM(claudeCfg, client)
		gt.NoError(t, err).Required()

		out := p.Generate(ctx, &model.Prompt{
			System:  "You are helpful.",
			History: []model.Message{{Role: model.RoleUser, Text: "I am planning a trip to France"}},
			Input:   "What is the capital?",
		})
		s, ok := out.(model.Success)
		gt.Bool(t, ok).True().Required()
		gt.Value(t, s.Text).Equal("Paris is the capital.")
		gt.Number(t, s.TokensIn).Greater(0)
		gt.Number(t, s.TokensOut).Equal(model.EstimateTokens("Paris is the capital."))
		gt.Number(t, s.CostUSD).Equal(claudeCfg.Cost(s.TokensIn, s.TokensOut))
		gt.String(t, received).Contains("trip to France")
		gt.String(t, received).Contains("What is the capital?")
		gt.Array(t, client.NewSessionCalls()).Length(1).Required()
		gt.Array(t, client.NewSessionCalls()[0].Options).Length(1)
	})

	t.Run("reported token usage is charged", func(t *testing.T) {
		client, _ := newClient(func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
			return &gollem.Response{Texts: []string{"ok"}, InputToken: 1200, OutputToken: 800}, nil
		})
		cfg := claudeCfg
		cfg.InputCostPer1K = 1
		cfg.OutputCostPer1K = 1
		p, err := provider.NewLLM(cfg, client)
		gt.NoError(t, err).Required()

		s, ok := p.Generate(ctx, &model.Prompt{Input: "hi"}).(model.Success)
		gt.Bool(t, ok).True().Required()
		gt.Number(t, s.TokensIn).Equal(1200)
		gt.Number(t, s.TokensOut).Equal(800)
		gt.Number(t, s.CostUSD).Greater(1.999)
		gt.Number(t, s.CostUSD).Less(2.001)
	})

	t.Run("backend error is classified", func(t *testing.T) {
		client, _ := newClient(func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
			return nil, fmt.Errorf("call: %w", &openai.APIError{HTTPStatusCode: 401})
		})
		p, err := provider.NewLLM(claudeCfg, client)
		gt.NoError(t, err).Required()

		_, fatal := p.Generate(ctx, &model.Prompt{Input: "hi"}).(model.FatalFailure)
		gt.Bool(t, fatal).True()
	})

	t.Run("empty response is retryable", func(t *testing.T) {
		client, _ := newClient(func(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
			return &gollem.Response{}, nil
		})
		p, err := provider.NewLLM(claudeCfg, client)
		gt.NoError(t, err).Required()

		_, retry := p.Generate(ctx, &model.Prompt{Input: "hi"}).(model.RetryableFailure)
		gt.Bool(t, retry).True()
	})

	t.Run("probe", func(t *testing.T) {
		client, session := newClient(nil)
		p, err := provider.NewLLM(claudeCfg, client)
		gt.NoError(t, err).Required()
		gt.NoError(t, p.Probe(ctx))

		session.CountTokenFunc = func(ctx context.Context, input ...gollem.Input) (int, error) {
			return 0, errors.New("unreachable")
		}
		gt.Value(t, p.Probe(ctx)).NotNil()
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	built := 0
	factory := func(ctx context.Context, p config.Provider) (gollem.LLMClient, error) {
		built++
		if p.Backend == "broken" {
			return nil, provider.ErrUnknownBackend
		}
		client, _ := newClient(nil)
		return client, nil
	}

	reg := provider.NewRegistry()
	gt.NoError(t, reg.Build(ctx, []config.Provider{claudeCfg}, factory)).Required()
	gt.NoError(t, reg.Build(ctx, []config.Provider{claudeCfg}, factory)).Required()
	gt.Number(t, built).Equal(1)

	_, ok := reg.Provider("claude")
	gt.Bool(t, ok).True()
	_, ok = reg.Prober("claude")
	gt.Bool(t, ok).True()
	_, ok = reg.Client("claude")
	gt.Bool(t, ok).True()
	_, ok = reg.Provider("missing")
	gt.Bool(t, ok).False()

	err := reg.Build(ctx, []config.Provider{{ID: "x", Backend: "broken"}}, factory)
	gt.Error(t, err).Is(provider.ErrUnknownBackend)

	t.Run("factory rejects unknown backend", func(t *testing.T) {
		_, err := provider.NewClientFactory(provider.Credentials{})(ctx, config.Provider{ID: "x", Backend: "llama"})
		gt.Error(t, err).Is(provider.ErrUnknownBackend)
	})

	t.Run("factory requires credentials", func(t *testing.T) {
		_, err := provider.NewClientFactory(provider.Credentials{})(ctx, claudeCfg)
		gt.Value(t, err).NotNil()
	})
}
