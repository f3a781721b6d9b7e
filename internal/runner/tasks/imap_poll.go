package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/runner"
	"github.com/peppermint-lab/peppermint/internal/services/mailpoll"
)

// DefaultIMAPPollSchedule polls every minute, on the minute.
const DefaultIMAPPollSchedule = "0 */1 * * * *"

// IMAPPollTaskName identifies the poll task in the runner registry.
const IMAPPollTaskName = "imap-poll"

// Cycler runs one ingestion cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (mailpoll.CycleReport, error)
}

// IMAPPollTask drains every mail queue on a schedule.
type IMAPPollTask struct {
	cycler   Cycler
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewIMAPPollTask creates a new IMAP poll task
func NewIMAPPollTask(cycler Cycler, schedule string, timeout time.Duration, logger *zap.Logger) runner.Task {
	if schedule == "" {
		schedule = DefaultIMAPPollSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPPollTask{cycler: cycler, schedule: schedule, timeout: timeout, logger: logger}
}

// Name returns the task name
func (t *IMAPPollTask) Name() string {
	return IMAPPollTaskName
}

// Schedule returns the cron schedule
func (t *IMAPPollTask) Schedule() string {
	return t.schedule
}

// Timeout bounds a whole cycle
func (t *IMAPPollTask) Timeout() time.Duration {
	return t.timeout
}

// Run executes one cycle. Per-queue failures are already logged by the
// cycle and do not fail the task.
func (t *IMAPPollTask) Run(ctx context.Context) error {
	report, err := t.cycler.RunCycle(ctx)
	if err != nil {
		return err
	}
	if failed := report.Failed(); failed > 0 {
		t.logger.Warn("imap poll finished with failing queues",
			zap.String("run_id", report.RunID),
			zap.Int("failed", failed),
			zap.Int("queues", len(report.Queues)),
		)
	}
	return nil
}
