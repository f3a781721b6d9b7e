package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Authenticate(client sasl.Client) error
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

// SessionState is the lifecycle position of a mailbox session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateInboxOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateInboxOpen:
		return "inbox_open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidState is returned for operations not allowed in the current state.
var ErrInvalidState = errors.New("invalid session state")

// Session is an authenticated mailbox connection. Every operation runs
// synchronously; Close is safe to call on any path and more than once.
type Session struct {
	mu        sync.Mutex
	client    imapClient
	state     SessionState
	queueID   string
	mailbox   string
	stopWatch func() bool
	logger    *zap.Logger
}

func newSession(client imapClient, queueID string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{queueID: queueID, logger: logger}
	if client != nil {
		s.client = client
		s.state = StateConnected
	}
	return s
}

// watch closes the socket once ctx is done so a blocked command returns.
func (s *Session) watch(ctx context.Context) {
	if ctx == nil || s.client == nil {
		return
	}
	client := s.client
	s.stopWatch = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
}

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open selects mailbox read-write.
func (s *Session) Open(mailbox string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require("open", StateConnected); err != nil {
		return err
	}
	if _, err := s.client.Select(mailbox, nil).Wait(); err != nil {
		return s.connErr("select "+mailbox, err)
	}
	s.mailbox = mailbox
	s.state = StateInboxOpen
	return nil
}

// Search runs a UID SEARCH and returns matching UIDs.
func (s *Session) Search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require("search", StateInboxOpen); err != nil {
		return nil, err
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, s.connErr("search", err)
	}
	if data == nil {
		return nil, nil
	}
	return data.AllUIDs(), nil
}

// FetchBody retrieves the full raw message without setting \Seen.
func (s *Session) FetchBody(uid imap.UID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require("fetch", StateInboxOpen); err != nil {
		return nil, err
	}
	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, s.connErr(fmt.Sprintf("fetch %d", uid), err)
	}
	for _, buf := range bufs {
		if buf == nil || (buf.UID != 0 && buf.UID != uid) {
			continue
		}
		body := buf.FindBodySection(section)
		if body == nil && len(buf.BodySection) > 0 {
			body = buf.BodySection[0].Bytes
		}
		if body != nil {
			return body, nil
		}
	}
	return nil, s.connErr(fmt.Sprintf("fetch %d", uid), errors.New("message body not returned"))
}

// MarkSeen adds the \Seen flag to uid.
func (s *Session) MarkSeen(uid imap.UID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require("store", StateInboxOpen); err != nil {
		return err
	}
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := s.client.Store(imap.UIDSetNum(uid), store, nil).Close(); err != nil {
		return s.connErr(fmt.Sprintf("store seen %d", uid), err)
	}
	return nil
}

// Close logs out (best effort) and releases the socket.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	prev := s.state
	s.state = StateClosed
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.client == nil {
		return nil
	}
	if prev == StateConnected || prev == StateInboxOpen {
		if err := s.client.Logout().Wait(); err != nil {
			s.logger.Debug("imap logout failed", zap.String("queue_id", s.queueID), zap.Error(err))
		}
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("imap close failed", zap.String("queue_id", s.queueID), zap.Error(err))
	}
	return nil
}

func (s *Session) require(op string, want SessionState) error {
	if s.state != want {
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s.state)
	}
	return nil
}

func (s *Session) connErr(op string, err error) error {
	return &inbound.ConnectionError{QueueID: s.queueID, Op: op, Err: err}
}
