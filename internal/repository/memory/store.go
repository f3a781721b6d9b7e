// Package memory provides an in-process implementation of the repository
// interfaces for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peppermint-lab/peppermint/internal/models"
	"github.com/peppermint-lab/peppermint/internal/repository"
)

// Store keeps queues, tickets, comments and email snapshots in memory.
type Store struct {
	mu sync.RWMutex

	queues   map[string]*models.EmailQueue
	tickets  []*models.Ticket
	comments []*models.Comment
	emails   []*models.ImapEmail
	next     int

	// Fail, when set, is consulted before each write with the operation name
	// ("email", "ticket", "comment", "tokens") and may return an error.
	Fail func(op string) error
	now  func() time.Time
}

var (
	_ repository.MailQueueSource = (*Store)(nil)
	_ repository.QueueTokenStore = (*Store)(nil)
	_ repository.TicketStore     = (*Store)(nil)
	_ repository.CommentStore    = (*Store)(nil)
)

// NewStore returns an empty store whose ticket numbers start at 1.
func NewStore() *Store {
	return &Store{
		queues: make(map[string]*models.EmailQueue),
		next:   1,
		now:    time.Now,
	}
}

// AddQueue registers a mail queue.
func (s *Store) AddQueue(q *models.EmailQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
	}
	s.queues[q.ID] = q
}

// SeedTicket stores an existing ticket, advancing the number sequence past it.
func (s *Store) SeedTicket(t *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.tickets = append(s.tickets, t)
	if t.Number >= s.next {
		s.next = t.Number + 1
	}
}

// ListMailQueues returns all queues ordered by creation time.
func (s *Store) ListMailQueues(_ context.Context) ([]*models.EmailQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.EmailQueue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateQueueTokens stores a refreshed grant on the queue.
func (s *Store) UpdateQueueTokens(_ context.Context, queueID string, tokens models.QueueTokens) error {
	if err := s.fail("tokens"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[queueID]
	if !ok {
		return fmt.Errorf("mail queue %s: %w", queueID, repository.ErrNotFound)
	}
	access, refresh := tokens.AccessToken, tokens.RefreshToken
	expires := tokens.ExpiresAt.UnixMilli()
	q.AccessToken, q.RefreshToken, q.ExpiresIn = &access, &refresh, &expires
	q.UpdatedAt = s.now()
	return nil
}

// FindTicketByNumber returns nil, nil when the number is unknown.
func (s *Store) FindTicketByNumber(_ context.Context, number int) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.Number == number {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateEmailRecord stores an email snapshot.
func (s *Store) CreateEmailRecord(_ context.Context, email *models.ImapEmail) (string, error) {
	if err := s.fail("email"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEmail(email), nil
}

// CreateTicket stores a ticket and assigns the next number.
func (s *Store) CreateTicket(_ context.Context, in models.NewTicketInput) (*models.Ticket, error) {
	if err := s.fail("ticket"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTicket(in), nil
}

// CreateTicketFromEmail writes both rows or neither.
func (s *Store) CreateTicketFromEmail(_ context.Context, email *models.ImapEmail, in models.NewTicketInput) (*models.Ticket, error) {
	if err := s.fail("email"); err != nil {
		return nil, err
	}
	if err := s.fail("ticket"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addEmail(email)
	return s.addTicket(in), nil
}

// CreateComment appends a reply comment.
func (s *Store) CreateComment(_ context.Context, in models.NewCommentInput) (string, error) {
	if err := s.fail("comment"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Comment{
		ID:        uuid.NewString(),
		Text:      in.Text,
		Public:    in.Public,
		Reply:     true,
		TicketID:  in.TicketID,
		CreatedAt: s.now(),
	}
	if in.ReplyEmail != "" {
		email := in.ReplyEmail
		c.ReplyEmail = &email
	}
	s.comments = append(s.comments, c)
	return c.ID, nil
}

// Tickets returns a copy of all stored tickets.
func (s *Store) Tickets() []models.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Ticket, len(s.tickets))
	for i, t := range s.tickets {
		out[i] = *t
	}
	return out
}

// Comments returns a copy of all stored comments.
func (s *Store) Comments() []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Comment, len(s.comments))
	for i, c := range s.comments {
		out[i] = *c
	}
	return out
}

// Emails returns a copy of all stored email snapshots.
func (s *Store) Emails() []models.ImapEmail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ImapEmail, len(s.emails))
	for i, e := range s.emails {
		out[i] = *e
	}
	return out
}

// Queue returns the stored queue by id.
func (s *Store) Queue(id string) (*models.EmailQueue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[id]
	return q, ok
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func (s *Store) addEmail(email *models.ImapEmail) string {
	cp := *email
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	email.ID = cp.ID
	s.emails = append(s.emails, &cp)
	return cp.ID
}

func (s *Store) addTicket(in models.NewTicketInput) *models.Ticket {
	now := s.now()
	t := &models.Ticket{
		ID:        uuid.NewString(),
		Number:    s.next,
		Title:     in.Title,
		Detail:    in.Detail,
		Email:     in.Email,
		Name:      in.Name,
		Priority:  in.Priority,
		FromImap:  in.FromImap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.Priority == "" {
		t.Priority = models.DefaultTicketPriority
	}
	s.next++
	s.tickets = append(s.tickets, t)
	cp := *t
	return &cp
}
