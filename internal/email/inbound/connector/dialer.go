package connector

import (
	"context"
	"net"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

// SessionDialer opens authenticated sessions.
type SessionDialer interface {
	Dial(ctx context.Context, account Account) (*Session, error)
}

// Dialer connects and authenticates IMAP sessions.
type Dialer struct {
	timeout    time.Duration
	strictTLS  bool
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
	connect    func(ctx context.Context, endpoint Endpoint) (imapClient, error)
	sleep      func(ctx context.Context, d time.Duration) error
}

// DialerOption customizes a Dialer.
type DialerOption func(*Dialer)

// WithDialTimeout bounds each TCP/TLS connect attempt.
func WithDialTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithStrictTLS enables server certificate verification.
func WithStrictTLS(strict bool) DialerOption {
	return func(d *Dialer) {
		d.strictTLS = strict
	}
}

// WithRetry retries failed connects with exponential backoff starting at delay.
func WithRetry(retries int, delay time.Duration) DialerOption {
	return func(d *Dialer) {
		if retries >= 0 {
			d.retries = retries
		}
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// WithDialerLogger sets the dialer logger.
func WithDialerLogger(logger *zap.Logger) DialerOption {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func withConnectFunc(fn func(ctx context.Context, endpoint Endpoint) (imapClient, error)) DialerOption {
	return func(d *Dialer) {
		d.connect = fn
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) DialerOption {
	return func(d *Dialer) {
		d.sleep = fn
	}
}

// NewDialer returns a dialer with relaxed TLS and two connect retries.
func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		timeout:    10 * time.Second,
		retries:    2,
		retryDelay: time.Second,
		logger:     zap.NewNop(),
		sleep:      sleepContext,
	}
	d.connect = d.defaultConnect
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dial resolves credentials, connects with retry and authenticates. The
// returned session closes its socket when ctx is done.
func (d *Dialer) Dial(ctx context.Context, account Account) (*Session, error) {
	endpoint, err := EndpointFor(account)
	if err != nil {
		return nil, err
	}
	cred, err := ResolveCredential(ctx, account)
	if err != nil {
		return nil, err
	}

	client, err := d.connectWithRetry(ctx, account.QueueID, endpoint)
	if err != nil {
		return nil, err
	}

	session := newSession(client, account.QueueID, d.logger)
	session.watch(ctx)
	if err := cred.authenticate(client); err != nil {
		_ = session.Close()
		return nil, &inbound.ConnectionError{QueueID: account.QueueID, Op: "auth " + cred.Mechanism, Err: err}
	}
	d.logger.Debug("imap session authenticated",
		zap.String("queue_id", account.QueueID),
		zap.String("address", endpoint.Address()),
		zap.String("mechanism", cred.Mechanism),
	)
	return session, nil
}

func (d *Dialer) connectWithRetry(ctx context.Context, queueID string, endpoint Endpoint) (imapClient, error) {
	delay := d.retryDelay
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &inbound.ConnectionError{QueueID: queueID, Op: "connect", Err: err}
		}
		client, err := d.connect(ctx, endpoint)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if attempt == d.retries {
			break
		}
		d.logger.Warn("imap connect failed, retrying",
			zap.String("queue_id", queueID),
			zap.String("address", endpoint.Address()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, &inbound.ConnectionError{QueueID: queueID, Op: "connect", Err: err}
		}
		delay *= 2
	}
	return nil, &inbound.ConnectionError{QueueID: queueID, Op: "connect", Err: lastErr}
}

func (d *Dialer) defaultConnect(_ context.Context, endpoint Endpoint) (imapClient, error) {
	tlsConfig := RelaxedTLS(endpoint.Host)
	if d.strictTLS {
		tlsConfig = StrictTLS(endpoint.Host)
	}
	opts := &imapclient.Options{
		Dialer:    &net.Dialer{Timeout: d.timeout},
		TLSConfig: tlsConfig,
	}
	var (
		client *imapclient.Client
		err    error
	)
	if endpoint.TLS {
		client, err = imapclient.DialTLS(endpoint.Address(), opts)
	} else {
		client, err = imapclient.DialInsecure(endpoint.Address(), opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
