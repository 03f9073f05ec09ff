// Package gateway builds provider-backed email services from a request's
// {provider, accessToken} pair.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
	"github.com/Martian-dev/crm-mail-gateway/internal/providers/gmail"
	"github.com/Martian-dev/crm-mail-gateway/internal/providers/outlook"
)

// Constructor builds an adapter bound to accessToken.
type Constructor func(ctx context.Context, accessToken string) (email.Service, error)

type Options struct {
	// Timeout bounds every provider call. Zero disables the bound.
	Timeout time.Duration
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Gateway selects and wraps provider adapters. It holds no per-request state.
type Gateway struct {
	constructors map[email.ProviderType]Constructor
	timeout      time.Duration
	log          *logrus.Logger
	metrics      *metrics.Metrics
}

func New(opts Options) *Gateway {
	g := &Gateway{
		constructors: map[email.ProviderType]Constructor{
			email.ProviderGoogle:    newGmail,
			email.ProviderMicrosoft: newOutlook,
		},
		timeout: opts.Timeout,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if g.log == nil {
		g.log = logrus.StandardLogger()
	}
	return g
}

// WithConstructor replaces the adapter constructor for t.
func (g *Gateway) WithConstructor(t email.ProviderType, c Constructor) *Gateway {
	g.constructors[t] = c
	return g
}

// CreateEmailService validates p and returns a service for its provider.
// Malformed input yields *email.ValidationError before any adapter is built.
func (g *Gateway) CreateEmailService(ctx context.Context, p email.Provider) (email.Service, error) {
	if err := email.Validate(p); err != nil {
		return nil, err
	}
	build, ok := g.constructors[p.Type]
	if !ok {
		return nil, email.Invalid("provider", "must be one of: microsoft, google")
	}

	svc, err := build(ctx, p.AccessToken)
	if err != nil {
		return nil, email.NewEmailError(p.Type, 0, "failed to initialise provider client", fmt.Errorf("build %s adapter: %w", p.Type, err))
	}

	inner := &instrumented{
		provider: p.Type,
		next:     svc,
		timeout:  g.timeout,
		log:      g.log,
		metrics:  g.metrics,
	}
	return email.Validating(p.Type, inner), nil
}

func newGmail(ctx context.Context, token string) (email.Service, error) {
	a, err := gmail.New(ctx, token)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newOutlook(ctx context.Context, token string) (email.Service, error) {
	a, err := outlook.New(ctx, token)
	if err != nil {
		return nil, err
	}
	return a, nil
}
