package connector

import (
	"context"
	"time"
)

// Account kinds. OAuth2 accounts authenticate with XOAUTH2, generic ones with LOGIN.
const (
	KindOAuth2  = "gmail"
	KindGeneric = "other"
)

// TokenSource yields a currently valid OAuth2 access token for an account.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// AccessToken calls f.
func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, error) { return f(ctx) }

// Account carries the minimal set of fields a connector needs to open a mailbox.
type Account struct {
	QueueID  string
	Name     string
	Kind     string // gmail | other
	Host     string
	Port     int
	TLS      bool
	Username string
	Password []byte
	Mailbox  string
	Tokens   TokenSource
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	QueueID   string
	Connector string
	UID       string
	SizeBytes int64
	Raw       []byte
	Metadata  map[string]string
	account   Account
}

// AccountSnapshot returns the account metadata captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	m.account = acc
	m.QueueID = acc.QueueID
}

// Handler receives fully fetched messages and hands them to the postmaster.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *FetchedMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *FetchedMessage) error { return f(ctx, msg) }

// FetchStats summarizes one mailbox drain.
type FetchStats struct {
	Found     int
	Processed int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Fetcher implementations stream messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) (FetchStats, error)
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}
