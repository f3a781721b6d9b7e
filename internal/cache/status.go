package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PollStatus is the outcome of the last poll of one mail queue.
type PollStatus struct {
	QueueID    string
	Status     string
	ErrorKind  string
	Error      string
	Found      int
	Processed  int
	Failed     int
	Duration   time.Duration
	FinishedAt time.Time
}

// PollStatusStore keeps the latest PollStatus per queue in a Redis hash.
type PollStatusStore struct {
	client kv
	prefix string
}

// NewPollStatusStore stores hashes under <prefix>queue:<id>.
func NewPollStatusStore(client kv, prefix string) *PollStatusStore {
	return &PollStatusStore{client: client, prefix: prefix}
}

func (s *PollStatusStore) key(queueID string) string {
	return s.prefix + "queue:" + queueID
}

// Record overwrites the stored status for st.QueueID.
func (s *PollStatusStore) Record(ctx context.Context, st PollStatus) error {
	err := s.client.HSet(ctx, s.key(st.QueueID),
		"status", st.Status,
		"error_kind", st.ErrorKind,
		"error", st.Error,
		"found", st.Found,
		"processed", st.Processed,
		"failed", st.Failed,
		"duration_ms", st.Duration.Milliseconds(),
		"finished_at", st.FinishedAt.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("record poll status for queue %s: %w", st.QueueID, err)
	}
	return nil
}

// Get returns the stored status, or ok=false when the queue was never polled.
func (s *PollStatusStore) Get(ctx context.Context, queueID string) (PollStatus, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(queueID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return PollStatus{}, false, fmt.Errorf("read poll status for queue %s: %w", queueID, err)
	}
	if len(fields) == 0 {
		return PollStatus{}, false, nil
	}
	st := PollStatus{
		QueueID:   queueID,
		Status:    fields["status"],
		ErrorKind: fields["error_kind"],
		Error:     fields["error"],
		Found:     atoi(fields["found"]),
		Processed: atoi(fields["processed"]),
		Failed:    atoi(fields["failed"]),
		Duration:  time.Duration(atoi(fields["duration_ms"])) * time.Millisecond,
	}
	if ts, err := time.Parse(time.RFC3339, fields["finished_at"]); err == nil {
		st.FinishedAt = ts
	}
	return st, true, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
