package cache

import (
	"context"
	"fmt"
	"time"
)

// MessageDeduper records Message-IDs of ingested mail.
type MessageDeduper struct {
	client kv
	prefix string
	ttl    time.Duration
}

// NewMessageDeduper stores keys as <prefix>msgid:<id> for ttl.
func NewMessageDeduper(client kv, prefix string, ttl time.Duration) *MessageDeduper {
	return &MessageDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *MessageDeduper) key(messageID string) string {
	return d.prefix + "msgid:" + messageID
}

// Seen reports whether messageID was already ingested.
func (d *MessageDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return n > 0, nil
}

// Remember marks messageID as ingested.
func (d *MessageDeduper) Remember(ctx context.Context, messageID string) error {
	if err := d.client.Set(ctx, d.key(messageID), 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe record: %w", err)
	}
	return nil
}
