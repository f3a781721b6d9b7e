package postmaster

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/connector"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/filters"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/parser"
	"github.com/peppermint-lab/peppermint/internal/metrics"
)

// Actions reported in Result.
const (
	ActionNewTicket = "new_ticket"
	ActionFollowUp  = "follow_up"
	ActionDuplicate = "duplicate"
)

// Processor routes a parsed and classified message into the ticket store.
type Processor interface {
	Process(ctx context.Context, meta *filters.MessageContext) (Result, error)
}

// Result tracks what happened to a message.
type Result struct {
	Action       string
	TicketID     string
	TicketNumber int
	CommentID    string
}

// Service wires the parser, filters, and ticket processor together.
type Service struct {
	parser  *parser.Parser
	chain   filters.Chain
	handler Processor
	metrics *metrics.Mail
	logger  *zap.Logger
}

// ServiceOption customizes Service.
type ServiceOption func(*Service)

// WithParser overrides the MIME parser.
func WithParser(p *parser.Parser) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithFilterChain overrides the classifier chain.
func WithFilterChain(c filters.Chain) ServiceOption {
	return func(s *Service) {
		s.chain = c
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceMetrics counts ingested messages by action.
func WithServiceMetrics(m *metrics.Mail) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// DefaultChain returns the reply classifier followed by the subject token filter.
func DefaultChain(mode filters.ReplyMatch, logger *zap.Logger) filters.Chain {
	return filters.NewChain(filters.NewReplyFilter(mode), filters.NewSubjectTokenFilter(logger))
}

// NewService builds a connector.Handler around handler.
func NewService(handler Processor, opts ...ServiceOption) *Service {
	s := &Service{
		handler: handler,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.parser == nil {
		s.parser = parser.New()
	}
	if s.chain.Len() == 0 {
		s.chain = DefaultChain(filters.ReplyMatchContains, s.logger)
	}
	return s
}

// Handle implements connector.Handler: parse, classify, then route.
func (s *Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	if msg == nil {
		return errors.New("postmaster: message required")
	}
	if s.handler == nil {
		return errors.New("postmaster: processor unavailable")
	}

	email, err := s.parser.Parse(msg.Raw)
	if err != nil {
		var parseErr *inbound.ParseError
		if errors.As(err, &parseErr) && parseErr.UID == "" {
			parseErr.UID = msg.UID
		}
		return err
	}

	ctxMsg := &filters.MessageContext{
		Account:     msg.AccountSnapshot(),
		Message:     msg,
		Email:       email,
		Annotations: map[string]any{},
	}
	if err := s.chain.Run(ctx, ctxMsg); err != nil {
		return err
	}

	res, err := s.handler.Process(ctx, ctxMsg)
	if err != nil {
		return err
	}
	s.metrics.ObserveMessage(msg.QueueID, res.Action)
	s.logger.Info("message ingested",
		zap.String("queue_id", msg.QueueID),
		zap.String("uid", msg.UID),
		zap.String("mailbox", msg.Metadata["imap_folder"]),
		zap.String("subject", email.Subject),
		zap.String("action", res.Action),
		zap.Int("ticket_number", res.TicketNumber),
	)
	return nil
}
