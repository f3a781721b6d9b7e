package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

type noopFetcher struct{}

func (noopFetcher) Name() string { return "noop" }

func (noopFetcher) Fetch(context.Context, Account, Handler) (FetchStats, error) {
	return FetchStats{}, nil
}

func TestFactoryReturnsRegisteredFetcher(t *testing.T) {
	factory := NewFactory(WithFetcher(noopFetcher{}, "Other"))

	fetcher, err := factory.FetcherFor(Account{Kind: " OTHER "})
	require.NoError(t, err)
	require.Equal(t, "noop", fetcher.Name())
}

func TestFactoryUnknownKindIsConfigurationError(t *testing.T) {
	_, err := DefaultFactory().FetcherFor(Account{QueueID: "q1", Kind: "exchange"})
	var cfgErr *inbound.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "q1", cfgErr.QueueID)
	require.Contains(t, cfgErr.Reason, "exchange")
}

func TestDefaultFactoryServesBothKinds(t *testing.T) {
	f := DefaultFactory()
	for _, kind := range []string{KindOAuth2, KindGeneric} {
		fetcher, err := f.FetcherFor(Account{Kind: kind})
		require.NoError(t, err)
		require.Equal(t, "imap", fetcher.Name())
	}
}
