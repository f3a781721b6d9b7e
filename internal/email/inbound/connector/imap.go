package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

// SeenPolicy decides when a fetched message gets the \Seen flag.
type SeenPolicy string

const (
	// SeenOnSuccess marks a message after it was handled or permanently
	// rejected. Transient failures stay unseen and are retried next cycle.
	SeenOnSuccess SeenPolicy = "on_success"
	// SeenOnArrival marks a message before it is handled.
	SeenOnArrival SeenPolicy = "on_arrival"
)

// ParseSeenPolicy validates a configured policy name; empty means on_success.
func ParseSeenPolicy(value string) (SeenPolicy, error) {
	switch SeenPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", SeenOnSuccess:
		return SeenOnSuccess, nil
	case SeenOnArrival:
		return SeenOnArrival, nil
	default:
		return "", fmt.Errorf("unknown seen policy %q", value)
	}
}

const defaultMailbox = "INBOX"

// IMAPFetcher drains unseen messages received today from an IMAP inbox.
type IMAPFetcher struct {
	dialer          SessionDialer
	seenPolicy      SeenPolicy
	maxMessageBytes int64
	location        *time.Location
	now             func() time.Time
	logger          *zap.Logger
}

// IMAPFetcherOption customizes fetcher behavior.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector ready for queue polling.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{
		seenPolicy: SeenOnSuccess,
		location:   time.Local,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.dialer == nil {
		f.dialer = NewDialer(WithDialerLogger(f.logger))
	}
	return f
}

// WithIMAPDialer overrides how sessions are opened.
func WithIMAPDialer(d SessionDialer) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.dialer = d
	}
}

// WithSeenPolicy selects when messages are flagged \Seen.
func WithSeenPolicy(p SeenPolicy) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if p != "" {
			f.seenPolicy = p
		}
	}
}

// WithMaxMessageBytes rejects larger messages as unparseable. Zero disables the cap.
func WithMaxMessageBytes(n int64) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if n >= 0 {
			f.maxMessageBytes = n
		}
	}
}

// WithIMAPLocation sets the time zone used to compute the start of today.
func WithIMAPLocation(loc *time.Location) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if loc != nil {
			f.location = loc
		}
	}
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *zap.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// UnseenSince builds the UNSEEN SINCE <day> criteria. IMAP SINCE has date
// granularity, so only the calendar day of t matters.
func UnseenSince(t time.Time) *imap.SearchCriteria {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return &imap.SearchCriteria{
		Since:   day,
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
}

// Fetch hands every unseen message received today to handler. Message
// failures are logged and counted; only session level failures are
// returned. The session is closed on every path.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) (stats FetchStats, err error) {
	started := f.now()
	defer func() {
		stats.Duration = f.now().Sub(started)
	}()
	if handler == nil {
		return stats, errors.New("imap fetcher requires a handler")
	}

	session, err := f.dialer.Dial(ctx, account)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Warn("imap session close failed", zap.String("queue_id", account.QueueID), zap.Error(cerr))
		}
	}()

	mailbox := account.Mailbox
	if mailbox == "" {
		mailbox = defaultMailbox
	}
	if err := session.Open(mailbox); err != nil {
		return stats, err
	}

	uids, err := session.Search(UnseenSince(f.now().In(f.location)))
	if err != nil {
		return stats, err
	}
	stats.Found = len(uids)
	if len(uids) == 0 {
		f.logger.Debug("no unseen messages", zap.String("queue_id", account.QueueID))
		return stats, nil
	}
	slices.Sort(uids)

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return stats, &inbound.ConnectionError{QueueID: account.QueueID, Op: "fetch", Err: err}
		}
		if err := f.processOne(ctx, session, account, mailbox, uid, handler, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// processOne returns an error only when the session itself broke.
func (f *IMAPFetcher) processOne(ctx context.Context, session *Session, account Account, mailbox string, uid imap.UID, handler Handler, stats *FetchStats) error {
	uidStr := strconv.FormatUint(uint64(uid), 10)
	log := f.logger.With(zap.String("queue_id", account.QueueID), zap.String("uid", uidStr))

	if f.seenPolicy == SeenOnArrival {
		if err := session.MarkSeen(uid); err != nil {
			return err
		}
	}

	body, err := session.FetchBody(uid)
	if err != nil {
		return err
	}

	var handleErr error
	if f.maxMessageBytes > 0 && int64(len(body)) > f.maxMessageBytes {
		handleErr = &inbound.ParseError{UID: uidStr, Err: fmt.Errorf("message is %d bytes, limit %d", len(body), f.maxMessageBytes)}
	} else {
		msg := &FetchedMessage{
			Connector: f.Name(),
			UID:       uidStr,
			SizeBytes: int64(len(body)),
			Raw:       body,
			Metadata: map[string]string{
				"imap_uid":    uidStr,
				"imap_folder": mailbox,
			},
		}
		msg.WithAccount(account)
		handleErr = handler.Handle(ctx, msg)
	}

	markSeen := f.seenPolicy == SeenOnSuccess
	switch {
	case handleErr == nil:
		stats.Processed++
	case inbound.IsPermanent(handleErr):
		stats.Failed++
		log.Warn("dropping message", zap.String("error_kind", inbound.Kind(handleErr)), zap.Error(handleErr))
	default:
		stats.Failed++
		stats.Skipped++
		markSeen = false
		log.Error("message left unseen for retry", zap.String("error_kind", inbound.Kind(handleErr)), zap.Error(handleErr))
	}

	if markSeen {
		if err := session.MarkSeen(uid); err != nil {
			return err
		}
	}
	return nil
}
