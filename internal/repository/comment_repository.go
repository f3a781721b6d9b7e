package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/peppermint-lab/peppermint/internal/models"
)

// CommentRepository writes ticket comments.
type CommentRepository struct {
	db *sqlx.DB
	base
}

// NewCommentRepository creates a new comment repository.
func NewCommentRepository(db *sqlx.DB, opts ...Option) *CommentRepository {
	return &CommentRepository{db: db, base: newBase(opts)}
}

// CreateComment appends an email reply to a ticket. Email replies have no
// author, so "userId" stays NULL.
func (r *CommentRepository) CreateComment(ctx context.Context, in models.NewCommentInput) (string, error) {
	id := r.newID()
	var replyEmail *string
	if in.ReplyEmail != "" {
		replyEmail = &in.ReplyEmail
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO "Comment" ("id", "text", "public", "reply", "replyEmail", "ticketId", "userId", "createdAt")
		VALUES ($1, $2, $3, true, $4, $5, NULL, $6)`,
		id,
		in.Text,
		in.Public,
		replyEmail,
		in.TicketID,
		r.now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create comment on ticket %s: %w", in.TicketID, classifyWriteError(err))
	}
	return id, nil
}
