package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/peppermint-lab/peppermint/internal/models"
)

// MailQueueRepository reads "emailQueue" rows.
type MailQueueRepository struct {
	db *sqlx.DB
	base
}

// NewMailQueueRepository creates a new mail queue repository.
func NewMailQueueRepository(db *sqlx.DB, opts ...Option) *MailQueueRepository {
	return &MailQueueRepository{db: db, base: newBase(opts)}
}

const listMailQueuesQuery = `
	SELECT "id", COALESCE("name", '') AS "name", "username", "password", "hostname",
		COALESCE("tls", false) AS "tls", "serviceType", "clientId", "clientSecret",
		"refreshToken", "accessToken", "expiresIn", "redirectUri", "active",
		"createdAt", "updatedAt"
	FROM "emailQueue"
	ORDER BY "createdAt" ASC, "id" ASC`

// ListMailQueues returns every queue row, oldest first.
func (r *MailQueueRepository) ListMailQueues(ctx context.Context) ([]*models.EmailQueue, error) {
	var queues []*models.EmailQueue
	if err := r.db.SelectContext(ctx, &queues, listMailQueuesQuery); err != nil {
		return nil, fmt.Errorf("failed to list mail queues: %w", err)
	}
	return queues, nil
}

// UpdateQueueTokens stores a refreshed OAuth2 grant. ExpiresAt is kept as
// unix milliseconds in "expiresIn".
func (r *MailQueueRepository) UpdateQueueTokens(ctx context.Context, queueID string, tokens models.QueueTokens) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE "emailQueue"
		SET "accessToken" = $1, "refreshToken" = $2, "expiresIn" = $3, "updatedAt" = $4
		WHERE "id" = $5`,
		tokens.AccessToken,
		tokens.RefreshToken,
		tokens.ExpiresAt.UnixMilli(),
		r.now(),
		queueID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tokens for queue %s: %w", queueID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tokens for queue %s: %w", queueID, err)
	}
	if n == 0 {
		return fmt.Errorf("mail queue %s: %w", queueID, ErrNotFound)
	}
	return nil
}
