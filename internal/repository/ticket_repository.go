package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/peppermint-lab/peppermint/internal/models"
)

// TicketRepository writes tickets and their originating email snapshots.
type TicketRepository struct {
	db *sqlx.DB
	base
}

// NewTicketRepository creates a new ticket repository.
func NewTicketRepository(db *sqlx.DB, opts ...Option) *TicketRepository {
	return &TicketRepository{db: db, base: newBase(opts)}
}

// FindTicketByNumber looks a ticket up by its human-facing number.
func (r *TicketRepository) FindTicketByNumber(ctx context.Context, number int) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	err := r.db.GetContext(ctx, ticket, `
		SELECT "id", "Number", COALESCE("title", '') AS "title", COALESCE("detail", '') AS "detail",
			COALESCE("email", '') AS "email", COALESCE("name", '') AS "name", "isComplete",
			COALESCE("priority", '') AS "priority", "fromImap", "createdAt", "updatedAt"
		FROM "Ticket"
		WHERE "Number" = $1
		LIMIT 1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket #%d: %w", number, err)
	}
	return ticket, nil
}

// CreateEmailRecord stores an inbound email snapshot and returns its id.
func (r *TicketRepository) CreateEmailRecord(ctx context.Context, email *models.ImapEmail) (string, error) {
	return r.insertEmail(ctx, r.db, email)
}

// CreateTicket inserts a ticket; the database assigns its Number.
func (r *TicketRepository) CreateTicket(ctx context.Context, in models.NewTicketInput) (*models.Ticket, error) {
	return r.insertTicket(ctx, r.db, in)
}

// CreateTicketFromEmail stores the snapshot and the ticket in one transaction.
func (r *TicketRepository) CreateTicketFromEmail(ctx context.Context, email *models.ImapEmail, in models.NewTicketInput) (*models.Ticket, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := r.insertEmail(ctx, tx, email); err != nil {
		return nil, err
	}
	ticket, err := r.insertTicket(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ticket: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepository) insertEmail(ctx context.Context, q sqlx.ExtContext, email *models.ImapEmail) (string, error) {
	if email == nil {
		return "", errors.New("email record required")
	}
	if email.ID == "" {
		email.ID = r.newID()
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = r.now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO "Imap_Email" ("id", "from", "subject", "body", "html", "text", "createdAt", "updatedAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		email.ID,
		email.From,
		email.Subject,
		email.Body,
		email.HTML,
		email.Text,
		email.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create email record: %w", classifyWriteError(err))
	}
	return email.ID, nil
}

func (r *TicketRepository) insertTicket(ctx context.Context, q sqlx.ExtContext, in models.NewTicketInput) (*models.Ticket, error) {
	now := r.now()
	ticket := &models.Ticket{
		ID:         r.newID(),
		Title:      in.Title,
		Detail:     in.Detail,
		Email:      in.Email,
		Name:       in.Name,
		IsComplete: false,
		Priority:   in.Priority,
		FromImap:   in.FromImap,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ticket.Priority == "" {
		ticket.Priority = models.DefaultTicketPriority
	}
	err := q.QueryRowxContext(ctx, `
		INSERT INTO "Ticket" ("id", "name", "title", "detail", "email", "isComplete", "priority", "fromImap", "createdAt", "updatedAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING "Number"`,
		ticket.ID,
		ticket.Name,
		ticket.Title,
		ticket.Detail,
		ticket.Email,
		ticket.IsComplete,
		ticket.Priority,
		ticket.FromImap,
		now,
	).Scan(&ticket.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", classifyWriteError(err))
	}
	return ticket, nil
}
