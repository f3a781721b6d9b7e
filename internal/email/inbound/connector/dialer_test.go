package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/oauth2"
)

func TestEndpointFor(t *testing.T) {
	cases := []struct {
		name    string
		account Account
		want    Endpoint
	}{
		{"generic tls", Account{Kind: KindGeneric, Host: "mail.example", TLS: true}, Endpoint{"mail.example", 993, true}},
		{"generic plain", Account{Kind: KindGeneric, Host: "mail.example"}, Endpoint{"mail.example", 143, false}},
		{"oauth2 forces tls", Account{Kind: KindOAuth2, Host: "imap.gmail.com"}, Endpoint{"imap.gmail.com", 993, true}},
		{"explicit port", Account{Kind: KindGeneric, Host: "mail.example", Port: 1143}, Endpoint{"mail.example", 1143, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EndpointFor(tc.account)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := EndpointFor(Account{QueueID: "q", Kind: KindGeneric})
	require.Equal(t, inbound.KindConfiguration, inbound.Kind(err))
	require.Equal(t, "mail.example:993", Endpoint{Host: "mail.example", Port: 993}.Address())
}

func TestResolveCredential(t *testing.T) {
	ctx := context.Background()

	cred, err := ResolveCredential(ctx, genericAccount())
	require.NoError(t, err)
	require.Equal(t, MechanismLogin, cred.Mechanism)

	_, err = ResolveCredential(ctx, Account{QueueID: "q", Kind: KindGeneric, Username: "u"})
	var cfgErr *inbound.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "password not set", cfgErr.Reason)

	_, err = ResolveCredential(ctx, Account{QueueID: "q", Kind: "pop3", Username: "u", Password: []byte("p")})
	require.Equal(t, inbound.KindConfiguration, inbound.Kind(err))

	_, err = ResolveCredential(ctx, Account{QueueID: "q", Kind: KindOAuth2, Username: "u"})
	require.Equal(t, inbound.KindConfiguration, inbound.Kind(err))

	cred, err = ResolveCredential(ctx, Account{Kind: KindOAuth2, Username: "u", Tokens: staticToken("tok")})
	require.NoError(t, err)
	require.Equal(t, MechanismXOAuth2, cred.Mechanism)

	_, err = ResolveCredential(ctx, Account{QueueID: "q", Kind: KindOAuth2, Username: "u",
		Tokens: TokenSourceFunc(func(context.Context) (string, error) { return "", errors.New("invalid_grant") })})
	require.Equal(t, inbound.KindConnection, inbound.Kind(err))
}

func staticToken(tok string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) { return tok, nil })
}

func TestDialerAuthenticatesWithXOAuth2(t *testing.T) {
	client := &fakeIMAPClient{}
	var dialed Endpoint
	d := NewDialer(withConnectFunc(func(_ context.Context, e Endpoint) (imapClient, error) {
		dialed = e
		return client, nil
	}))

	acc := Account{QueueID: "q1", Kind: KindOAuth2, Host: "imap.gmail.com", Username: "help@example.com", Tokens: staticToken("ya29")}
	s, err := d.Dial(context.Background(), acc)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, Endpoint{"imap.gmail.com", 993, true}, dialed)
	require.Equal(t, oauth2.XOAuth2, client.saslMech)
	require.Equal(t, "user=help@example.com\x01auth=Bearer ya29\x01\x01", string(client.saslIR))
	require.Empty(t, client.user)
	require.Equal(t, StateConnected, s.State())
}

func TestDialerAuthenticatesWithPassword(t *testing.T) {
	client := &fakeIMAPClient{}
	d := NewDialer(withConnectFunc(func(context.Context, Endpoint) (imapClient, error) { return client, nil }))
	s, err := d.Dial(context.Background(), genericAccount())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Equal(t, "agent", client.user)
	require.Equal(t, "secret", client.password)
}

func TestDialerConfigurationErrorSkipsNetwork(t *testing.T) {
	calls := 0
	d := NewDialer(withConnectFunc(func(context.Context, Endpoint) (imapClient, error) {
		calls++
		return &fakeIMAPClient{}, nil
	}))
	acc := genericAccount()
	acc.Password = nil
	_, err := d.Dial(context.Background(), acc)
	require.Equal(t, inbound.KindConfiguration, inbound.Kind(err))
	require.Zero(t, calls)
}

func TestDialerRetriesWithBackoff(t *testing.T) {
	attempts := 0
	var waits []time.Duration
	d := NewDialer(
		WithRetry(3, 100*time.Millisecond),
		withSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
		withConnectFunc(func(context.Context, Endpoint) (imapClient, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return &fakeIMAPClient{}, nil
		}),
	)
	s, err := d.Dial(context.Background(), genericAccount())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
}

func TestDialerGivesUpAfterRetries(t *testing.T) {
	attempts := 0
	d := NewDialer(
		WithRetry(1, time.Millisecond),
		withSleep(func(context.Context, time.Duration) error { return nil }),
		withConnectFunc(func(context.Context, Endpoint) (imapClient, error) {
			attempts++
			return nil, errors.New("no route to host")
		}),
	)
	_, err := d.Dial(context.Background(), genericAccount())
	var connErr *inbound.ConnectionError
	require.True(t, errors.As(err, &connErr))
	require.Equal(t, "connect", connErr.Op)
	require.Equal(t, "q1", connErr.QueueID)
	require.Equal(t, 2, attempts)
}

func TestDialerClosesSessionOnAuthFailure(t *testing.T) {
	client := &fakeIMAPClient{authErr: errors.New("invalid credentials")}
	d := NewDialer(withConnectFunc(func(context.Context, Endpoint) (imapClient, error) { return client, nil }))
	acc := Account{QueueID: "q1", Kind: KindOAuth2, Host: "imap.gmail.com", Username: "u", Tokens: staticToken("t")}
	_, err := d.Dial(context.Background(), acc)
	require.ErrorContains(t, err, "auth XOAUTH2")
	require.True(t, client.closed)
}

func TestTLSConfigs(t *testing.T) {
	relaxed := RelaxedTLS("mail.example")
	require.True(t, relaxed.InsecureSkipVerify)
	require.Equal(t, "mail.example", relaxed.ServerName)
	require.False(t, StrictTLS("mail.example").InsecureSkipVerify)
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
