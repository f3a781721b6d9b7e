package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppermint-lab/peppermint/internal/services/mailpoll"
)

type cyclerFunc func(ctx context.Context) (mailpoll.CycleReport, error)

func (f cyclerFunc) RunCycle(ctx context.Context) (mailpoll.CycleReport, error) { return f(ctx) }

func TestIMAPPollTaskDefaults(t *testing.T) {
	task := NewIMAPPollTask(nil, "", 5*time.Minute, nil)
	assert.Equal(t, "imap-poll", task.Name())
	assert.Equal(t, DefaultIMAPPollSchedule, task.Schedule())
	assert.Equal(t, 5*time.Minute, task.Timeout())
}

func TestIMAPPollTaskIgnoresQueueFailures(t *testing.T) {
	task := NewIMAPPollTask(cyclerFunc(func(context.Context) (mailpoll.CycleReport, error) {
		return mailpoll.CycleReport{Queues: []mailpoll.QueueReport{
			{QueueID: "q1", Status: mailpoll.StatusFailed, Err: errors.New("refused")},
			{QueueID: "q2", Status: mailpoll.StatusOK},
		}}, nil
	}), "*/30 * * * * *", time.Minute, nil)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, "*/30 * * * * *", task.Schedule())
}

func TestIMAPPollTaskReturnsListingFailure(t *testing.T) {
	task := NewIMAPPollTask(cyclerFunc(func(context.Context) (mailpoll.CycleReport, error) {
		return mailpoll.CycleReport{}, errors.New("list mail queues: db down")
	}), "", time.Minute, nil)

	require.ErrorContains(t, task.Run(context.Background()), "db down")
}
