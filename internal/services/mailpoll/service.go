// Package mailpoll runs one ingestion cycle over every configured mail queue.
package mailpoll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/cache"
	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/adapter"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/connector"
	"github.com/peppermint-lab/peppermint/internal/metrics"
	"github.com/peppermint-lab/peppermint/internal/models"
)

// Queue statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// QueueSource lists the queues to poll.
type QueueSource interface {
	ListMailQueues(ctx context.Context) ([]*models.EmailQueue, error)
}

// StatusRecorder persists the outcome of each queue poll.
type StatusRecorder interface {
	Record(ctx context.Context, st cache.PollStatus) error
}

// Service polls queues one after another. A failing queue never stops the others.
type Service struct {
	queues       QueueSource
	factory      connector.Factory
	handler      connector.Handler
	tokens       adapter.AccessTokenProvider
	status       StatusRecorder
	metrics      *metrics.Mail
	queueTimeout time.Duration
	onlyActive   bool
	logger       *zap.Logger
	now          func() time.Time
}

// Option customizes Service.
type Option func(*Service)

// WithTokenProvider supplies OAuth2 access tokens for gmail queues.
func WithTokenProvider(p adapter.AccessTokenProvider) Option {
	return func(s *Service) { s.tokens = p }
}

// WithStatusRecorder stores per-queue poll status.
func WithStatusRecorder(r StatusRecorder) Option {
	return func(s *Service) { s.status = r }
}

// WithMetrics records poll metrics.
func WithMetrics(m *metrics.Mail) Option {
	return func(s *Service) { s.metrics = m }
}

// WithQueueTimeout bounds each queue's session. Zero means no per-queue deadline.
func WithQueueTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.queueTimeout = d
		}
	}
}

// WithOnlyActive skips queues whose active flag is false. Off by default:
// every listed queue is polled.
func WithOnlyActive(only bool) Option {
	return func(s *Service) { s.onlyActive = only }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the orchestrator.
func NewService(queues QueueSource, factory connector.Factory, handler connector.Handler, opts ...Option) *Service {
	s := &Service{
		queues:       queues,
		factory:      factory,
		handler:      handler,
		queueTimeout: 2 * time.Minute,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// QueueReport is the outcome of polling one queue.
type QueueReport struct {
	QueueID string
	Name    string
	Status  string
	Stats   connector.FetchStats
	Err     error
}

// CycleReport summarises one RunCycle.
type CycleReport struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Queues   []QueueReport
}

// Failed counts queues whose poll failed.
func (r CycleReport) Failed() int {
	n := 0
	for _, q := range r.Queues {
		if q.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Err joins the per-queue errors, or returns nil when every queue succeeded.
func (r CycleReport) Err() error {
	var errs []error
	for _, q := range r.Queues {
		if q.Err != nil {
			errs = append(errs, q.Err)
		}
	}
	return errors.Join(errs...)
}

// RunCycle polls every listed queue in order. It returns an error only when
// the queue list cannot be loaded or ctx ends; per-queue failures are
// logged and reported in CycleReport.
func (s *Service) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report = CycleReport{RunID: uuid.NewString(), Started: s.now()}
	log := s.logger.With(zap.String("run_id", report.RunID))
	defer func() {
		report.Duration = s.now().Sub(report.Started)
		s.metrics.ObserveCycle(report.Duration)
	}()

	queues, err := s.queues.ListMailQueues(ctx)
	if err != nil {
		log.Error("failed to list mail queues", zap.Error(err))
		return report, fmt.Errorf("list mail queues: %w", err)
	}
	if s.onlyActive {
		queues = activeOnly(queues)
	}
	if len(queues) == 0 {
		log.Debug("no mail queues to poll")
		return report, nil
	}

	for _, queue := range queues {
		if err := ctx.Err(); err != nil {
			log.Warn("cycle cancelled", zap.Int("remaining", len(queues)-len(report.Queues)), zap.Error(err))
			return report, err
		}
		report.Queues = append(report.Queues, s.pollQueue(ctx, log, queue))
	}

	log.Info("mail cycle finished",
		zap.Int("queues", len(report.Queues)),
		zap.Int("failed", report.Failed()),
	)
	return report, nil
}

func activeOnly(queues []*models.EmailQueue) []*models.EmailQueue {
	out := queues[:0:0]
	for _, q := range queues {
		if q != nil && q.Active {
			out = append(out, q)
		}
	}
	return out
}

func (s *Service) pollQueue(ctx context.Context, log *zap.Logger, queue *models.EmailQueue) (qr QueueReport) {
	qr = QueueReport{QueueID: queue.ID, Name: queue.Name, Status: StatusOK}
	log = log.With(zap.String("queue_id", queue.ID))
	started := s.now()

	defer func() {
		if r := recover(); r != nil {
			qr.Err = fmt.Errorf("queue %s panicked: %v", queue.ID, r)
		}
		if qr.Err != nil {
			qr.Status = StatusFailed
			log.Error("mail queue poll failed",
				zap.String("error_kind", inbound.Kind(qr.Err)),
				zap.Error(qr.Err),
			)
		} else {
			log.Info("mail queue polled",
				zap.Int("found", qr.Stats.Found),
				zap.Int("processed", qr.Stats.Processed),
				zap.Int("failed", qr.Stats.Failed),
				zap.Int("skipped", qr.Stats.Skipped),
			)
		}
		s.metrics.ObserveQueue(queue.ID, qr.Status, qr.Stats.Processed, qr.Stats.Failed, qr.Stats.Skipped)
		s.recordStatus(ctx, log, qr, s.now().Sub(started))
	}()

	account := adapter.AccountFromModel(queue, s.tokens)
	fetcher, err := s.factory.FetcherFor(account)
	if err != nil {
		qr.Err = err
		return qr
	}

	queueCtx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		queueCtx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}
	qr.Stats, qr.Err = fetcher.Fetch(queueCtx, account, s.handler)
	return qr
}

func (s *Service) recordStatus(ctx context.Context, log *zap.Logger, qr QueueReport, took time.Duration) {
	if s.status == nil {
		return
	}
	st := cache.PollStatus{
		QueueID:    qr.QueueID,
		Status:     qr.Status,
		Found:      qr.Stats.Found,
		Processed:  qr.Stats.Processed,
		Failed:     qr.Stats.Failed,
		Duration:   took,
		FinishedAt: s.now(),
	}
	if qr.Err != nil {
		st.ErrorKind = inbound.Kind(qr.Err)
		st.Error = qr.Err.Error()
	}
	if err := s.status.Record(ctx, st); err != nil {
		log.Warn("failed to record poll status", zap.Error(err))
	}
}
