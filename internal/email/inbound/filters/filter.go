package filters

import (
	"context"

	"github.com/peppermint-lab/peppermint/internal/email/inbound/connector"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/parser"
)

// MessageContext is the mutable envelope filters operate on.
type MessageContext struct {
	Account     connector.Account
	Message     *connector.FetchedMessage
	Email       *parser.InboundEmail
	Annotations map[string]any
}

// Annotate sets key on the context, allocating the map on first use.
func (m *MessageContext) Annotate(key string, value any) {
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	m.Annotations[key] = value
}

// Filter classifies a parsed message before it is routed.
type Filter interface {
	ID() string
	Apply(ctx context.Context, m *MessageContext) error
}

// Chain executes filters in order, short-circuiting on error.
type Chain struct {
	filters []Filter
}

// NewChain returns a filter chain that runs the provided filters sequentially.
func NewChain(fs ...Filter) Chain {
	return Chain{filters: fs}
}

// Len reports how many filters the chain holds.
func (c Chain) Len() int { return len(c.filters) }

// Run executes the chain.
func (c Chain) Run(ctx context.Context, m *MessageContext) error {
	for _, f := range c.filters {
		if err := f.Apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
