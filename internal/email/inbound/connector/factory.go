package connector

import (
	"fmt"
	"strings"
	"sync"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

// FactoryOption customizes a connector factory.
type FactoryOption func(*simpleFactory)

type simpleFactory struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewFactory builds a connector factory with the provided options.
func NewFactory(opts ...FactoryOption) Factory {
	f := &simpleFactory{fetchers: make(map[string]Fetcher)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// DefaultFactory returns a factory serving both account kinds with one IMAP fetcher.
func DefaultFactory(opts ...IMAPFetcherOption) Factory {
	return NewFactory(WithFetcher(NewIMAPFetcher(opts...), KindOAuth2, KindGeneric))
}

// WithFetcher registers a fetcher for the provided account kinds.
func WithFetcher(fetcher Fetcher, kinds ...string) FactoryOption {
	return func(f *simpleFactory) {
		if f == nil || fetcher == nil {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, k := range kinds {
			key := normalizeKind(k)
			if key == "" {
				continue
			}
			f.fetchers[key] = fetcher
		}
	}
}

func (f *simpleFactory) FetcherFor(account Account) (Fetcher, error) {
	key := normalizeKind(account.Kind)
	f.mu.RLock()
	fetcher, ok := f.fetchers[key]
	f.mu.RUnlock()
	if !ok {
		return nil, &inbound.ConfigurationError{
			QueueID: account.QueueID,
			Reason:  fmt.Sprintf("unsupported service type %q", account.Kind),
		}
	}
	return fetcher, nil
}

func normalizeKind(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
