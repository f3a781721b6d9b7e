package postmaster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/connector"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/filters"
	"github.com/peppermint-lab/peppermint/internal/metrics"
	"github.com/peppermint-lab/peppermint/internal/models"
	"github.com/peppermint-lab/peppermint/internal/repository"
	"github.com/peppermint-lab/peppermint/internal/repository/memory"
)

func rawMessage(subject, messageID string, body ...string) []byte {
	lines := []string{
		"From: Alice Example <alice@example.com>",
		"To: help@example.com",
		"Subject: " + subject,
	}
	if messageID != "" {
		lines = append(lines, "Message-ID: <"+messageID+">")
	}
	lines = append(lines, "Content-Type: text/plain; charset=utf-8", "")
	lines = append(lines, body...)
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func newTestService(store *memory.Store, opts ...TicketProcessorOption) *Service {
	return NewService(NewTicketProcessor(store, store, opts...))
}

func fetched(uid string, raw []byte) *connector.FetchedMessage {
	return &connector.FetchedMessage{QueueID: "q1", UID: uid, Raw: raw}
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.SeedTicket(&models.Ticket{ID: "t-42", Number: 42, Title: "Printer broken", Priority: "low"})
	return store
}

func TestReplyAppendsCommentWithoutQuotedHistory(t *testing.T) {
	store := seededStore()
	raw := rawMessage("Re: Printer broken #42", "a1@example.com",
		"Still broken after the reboot.",
		"",
		"On Mon, Jan 6, 2025 at 9:00 AM Support <help@example.com> wrote:",
		"> Have you tried turning it off?",
		">",
		"> -- ",
		"> Support Team",
	)

	require.NoError(t, newTestService(store).Handle(context.Background(), fetched("1", raw)))

	comments := store.Comments()
	require.Len(t, comments, 1)
	c := comments[0]
	assert.Equal(t, "t-42", c.TicketID)
	assert.Equal(t, "Still broken after the reboot.", c.Text)
	assert.True(t, c.Reply)
	assert.True(t, c.Public)
	assert.Nil(t, c.UserID)
	require.NotNil(t, c.ReplyEmail)
	assert.Equal(t, "alice@example.com", *c.ReplyEmail)
	assert.Len(t, store.Tickets(), 1)
	assert.Empty(t, store.Emails())
}

func TestReplyWithoutTicketNumber(t *testing.T) {
	store := seededStore()
	err := newTestService(store).Handle(context.Background(), fetched("2", rawMessage("Re: no ticket number", "", "hi")))

	var refErr *inbound.TicketReferenceError
	require.True(t, errors.As(err, &refErr))
	assert.Equal(t, "Re: no ticket number", refErr.Subject)
	assert.True(t, inbound.IsPermanent(err))
	assert.Empty(t, store.Comments())
	assert.Len(t, store.Tickets(), 1)
	assert.Empty(t, store.Emails())
}

func TestReplyToUnknownTicket(t *testing.T) {
	store := seededStore()
	err := newTestService(store).Handle(context.Background(), fetched("3", rawMessage("Re: fix now #999", "", "hi")))

	var nfErr *inbound.TicketNotFoundError
	require.True(t, errors.As(err, &nfErr))
	assert.Equal(t, 999, nfErr.Number)
	assert.Empty(t, store.Comments())
	assert.Len(t, store.Tickets(), 1)
}

func TestNewMessageOpensTicket(t *testing.T) {
	store := memory.NewStore()
	raw := rawMessage("New printer request", "n1@example.com", "We need a new printer on floor 3.")

	require.NoError(t, newTestService(store).Handle(context.Background(), fetched("4", raw)))

	emails := store.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "alice@example.com", emails[0].From)
	assert.Equal(t, "New printer request", emails[0].Subject)
	assert.Contains(t, emails[0].Body, "floor 3")
	assert.Empty(t, emails[0].HTML)
	assert.Contains(t, emails[0].Text, "<p>")

	tickets := store.Tickets()
	require.Len(t, tickets, 1)
	tk := tickets[0]
	assert.Equal(t, "New printer request", tk.Title)
	assert.Equal(t, "alice@example.com", tk.Email)
	assert.Equal(t, "Alice Example", tk.Name)
	assert.Equal(t, emails[0].Text, tk.Detail)
	assert.False(t, tk.IsComplete)
	assert.True(t, tk.FromImap)
	assert.Equal(t, "low", tk.Priority)
	assert.Empty(t, store.Comments())
}

func TestNewMessageFallbacks(t *testing.T) {
	store := memory.NewStore()
	raw := []byte("From: bob@example.com\r\nContent-Type: text/plain\r\n\r\n")

	require.NoError(t, newTestService(store).Handle(context.Background(), fetched("5", raw)))

	emails := store.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, NoSubject, emails[0].Subject)
	assert.Equal(t, NoBody, emails[0].Body)
	tickets := store.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, NoTitle, tickets[0].Title)
}

func TestReplyWithEmptyBodyStoresPlaceholder(t *testing.T) {
	store := seededStore()
	raw := []byte("From: alice@example.com\r\nSubject: Re: Printer broken #42\r\nContent-Type: text/plain\r\n\r\n")

	require.NoError(t, newTestService(store).Handle(context.Background(), fetched("6", raw)))
	comments := store.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, NoBody, comments[0].Text)
}

func TestPrefixModeTreatsInlineReAsNewTicket(t *testing.T) {
	store := seededStore()
	svc := NewService(NewTicketProcessor(store, store), WithFilterChain(DefaultChain(filters.ReplyMatchPrefix, nil)))

	raw := rawMessage("Question about Re: invoices #42", "", "hello")
	require.NoError(t, svc.Handle(context.Background(), fetched("7", raw)))
	assert.Empty(t, store.Comments())
	assert.Len(t, store.Tickets(), 2)
}

func TestUnparseableMessageCarriesUID(t *testing.T) {
	err := newTestService(memory.NewStore()).Handle(context.Background(), fetched("9", []byte("  ")))
	var parseErr *inbound.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "9", parseErr.UID)
}

func TestPersistenceFailureIsTransient(t *testing.T) {
	store := seededStore()
	store.Fail = func(op string) error {
		if op == "comment" {
			return errors.New("connection refused")
		}
		return nil
	}
	err := newTestService(store).Handle(context.Background(), fetched("10", rawMessage("Re: Printer broken #42", "", "ping")))

	var dbErr *inbound.PersistenceError
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, "create comment", dbErr.Op)
	assert.False(t, inbound.IsPermanent(err))
}

func TestRejectedContentIsPermanent(t *testing.T) {
	store := seededStore()
	store.Fail = func(op string) error {
		if op == "ticket" {
			return fmt.Errorf("failed to create ticket: %w", repository.ErrInvalidData)
		}
		return nil
	}
	err := newTestService(store).Handle(context.Background(), fetched("11", rawMessage("Printer on fire", "", "help")))

	var dbErr *inbound.PersistenceError
	require.True(t, errors.As(err, &dbErr))
	assert.True(t, dbErr.Rejected)
	assert.True(t, inbound.IsPermanent(err))
	assert.Equal(t, inbound.KindPersistence, inbound.Kind(err))
}

type mapDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *mapDeduper) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], d.err
}

func (d *mapDeduper) Remember(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

func TestDuplicateMessageIDIsSkipped(t *testing.T) {
	store := memory.NewStore()
	dedupe := &mapDeduper{}
	svc := newTestService(store, WithTicketProcessorDeduper(dedupe))
	raw := rawMessage("New printer request", "dup@example.com", "body")

	require.NoError(t, svc.Handle(context.Background(), fetched("11", raw)))
	require.NoError(t, svc.Handle(context.Background(), fetched("12", raw)))
	assert.Len(t, store.Tickets(), 1)
	assert.True(t, dedupe.seen["dup@example.com"])
}

func TestDedupeLookupFailureFailsOpen(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, WithTicketProcessorDeduper(&mapDeduper{err: errors.New("redis down")}))

	require.NoError(t, svc.Handle(context.Background(), fetched("13", rawMessage("Hello", "x@example.com", "body"))))
	assert.Len(t, store.Tickets(), 1)
}

func TestProcessRequiresParsedEmail(t *testing.T) {
	_, err := NewTicketProcessor(memory.NewStore(), memory.NewStore()).Process(context.Background(), &filters.MessageContext{})
	require.Error(t, err)
}

func TestHandleCountsActions(t *testing.T) {
	store := seededStore()
	m := metrics.NewMail()
	svc := NewService(NewTicketProcessor(store, store), WithServiceMetrics(m))

	require.NoError(t, svc.Handle(context.Background(), fetched("20", rawMessage("Printer on fire", "", "help"))))
	require.NoError(t, svc.Handle(context.Background(), fetched("21", rawMessage("Re: Printer broken #42", "", "ping"))))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `peppermint_mail_messages_total{action="new_ticket",queue="q1"} 1`)
	assert.Contains(t, body, `peppermint_mail_messages_total{action="follow_up",queue="q1"} 1`)
}
