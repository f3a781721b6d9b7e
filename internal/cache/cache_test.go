package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	mu      sync.Mutex
	strings map[string]string
	ttls    map[string]time.Duration
	hashes  map[string]map[string]string
	err     error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		strings: map[string]string{},
		ttls:    map[string]time.Duration{},
		hashes:  map[string]map[string]string{},
	}
}

func (f *fakeKV) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.strings[key] = fmt.Sprint(value)
		f.ttls[key] = expiration
	}
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeKV) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	h := map[string]string{}
	for i := 0; i+1 < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	f.hashes[key] = h
	return redis.NewIntResult(int64(len(h)), nil)
}

func (f *fakeKV) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewMapStringStringResult(f.hashes[key], f.err)
}

func TestMessageDeduper(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	d := NewMessageDeduper(kv, "pm:", time.Hour)

	seen, err := d.Seen(ctx, "abc@example.com")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Remember(ctx, "abc@example.com"))
	assert.Equal(t, time.Hour, kv.ttls["pm:msgid:abc@example.com"])

	seen, err = d.Seen(ctx, "abc@example.com")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMessageDeduperErrors(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("connection refused")
	d := NewMessageDeduper(kv, "", time.Minute)

	_, err := d.Seen(context.Background(), "x")
	require.ErrorContains(t, err, "connection refused")
	require.Error(t, d.Remember(context.Background(), "x"))
}

func TestPollStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewPollStatusStore(newFakeKV(), "pm:")
	finished := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := store.Get(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Record(ctx, PollStatus{
		QueueID:    "q1",
		Status:     "failed",
		ErrorKind:  "connection",
		Error:      "imap connect (queue q1): timeout",
		Found:      3,
		Processed:  1,
		Failed:     2,
		Duration:   1500 * time.Millisecond,
		FinishedAt: finished,
	}))

	st, ok, err := store.Get(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", st.Status)
	assert.Equal(t, "connection", st.ErrorKind)
	assert.Equal(t, 3, st.Found)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, 1500*time.Millisecond, st.Duration)
	assert.True(t, finished.Equal(st.FinishedAt))
}

func TestPollStatusRecordError(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("READONLY")
	err := NewPollStatusStore(kv, "").Record(context.Background(), PollStatus{QueueID: "q1"})
	require.ErrorContains(t, err, "queue q1")
}
