// Package repository persists Peppermint mail queues, tickets, comments and
// inbound email snapshots.
package repository

import (
	"context"
	"errors"

	"github.com/peppermint-lab/peppermint/internal/models"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("not found")

// MailQueueSource lists the mailboxes to poll.
type MailQueueSource interface {
	ListMailQueues(ctx context.Context) ([]*models.EmailQueue, error)
}

// QueueTokenStore persists refreshed OAuth2 grants.
type QueueTokenStore interface {
	UpdateQueueTokens(ctx context.Context, queueID string, tokens models.QueueTokens) error
}

// TicketStore is the ticket side of the ingestion sink.
type TicketStore interface {
	// FindTicketByNumber returns nil, nil when no ticket carries number.
	FindTicketByNumber(ctx context.Context, number int) (*models.Ticket, error)
	CreateEmailRecord(ctx context.Context, email *models.ImapEmail) (string, error)
	CreateTicket(ctx context.Context, in models.NewTicketInput) (*models.Ticket, error)
	// CreateTicketFromEmail stores the email snapshot and the ticket atomically.
	CreateTicketFromEmail(ctx context.Context, email *models.ImapEmail, in models.NewTicketInput) (*models.Ticket, error)
}

// CommentStore is the comment side of the ingestion sink.
type CommentStore interface {
	CreateComment(ctx context.Context, in models.NewCommentInput) (string, error)
}
