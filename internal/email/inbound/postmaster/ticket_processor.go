package postmaster

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/filters"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/parser"
	"github.com/peppermint-lab/peppermint/internal/email/inbound/replyparser"
	"github.com/peppermint-lab/peppermint/internal/models"
	"github.com/peppermint-lab/peppermint/internal/repository"
)

// Placeholders stored when an inbound email lacks a field.
const (
	NoSubject = "No Subject"
	NoBody    = "No Body"
	NoTitle   = "-"
)

type ticketStore interface {
	FindTicketByNumber(ctx context.Context, number int) (*models.Ticket, error)
	CreateTicketFromEmail(ctx context.Context, email *models.ImapEmail, in models.NewTicketInput) (*models.Ticket, error)
}

type commentStore interface {
	CreateComment(ctx context.Context, in models.NewCommentInput) (string, error)
}

// Deduper remembers Message-IDs that were already turned into tickets or comments.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Remember(ctx context.Context, messageID string) error
}

// TicketProcessor creates tickets for new mail and comments for replies.
type TicketProcessor struct {
	tickets  ticketStore
	comments commentStore
	deduper  Deduper
	priority string
	logger   *zap.Logger
}

// TicketProcessorOption customizes TicketProcessor.
type TicketProcessorOption func(*TicketProcessor)

// NewTicketProcessor builds a processor writing through tickets and comments.
func NewTicketProcessor(tickets ticketStore, comments commentStore, opts ...TicketProcessorOption) *TicketProcessor {
	tp := &TicketProcessor{
		tickets:  tickets,
		comments: comments,
		priority: models.DefaultTicketPriority,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tp)
		}
	}
	return tp
}

// WithTicketProcessorLogger overrides the logger used for diagnostics.
func WithTicketProcessorLogger(logger *zap.Logger) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		if logger != nil {
			tp.logger = logger
		}
	}
}

// WithTicketProcessorDeduper skips messages whose Message-ID was already ingested.
func WithTicketProcessorDeduper(d Deduper) TicketProcessorOption {
	return func(tp *TicketProcessor) {
		tp.deduper = d
	}
}

// Process routes the message to the reply or new-ticket path.
func (tp *TicketProcessor) Process(ctx context.Context, meta *filters.MessageContext) (Result, error) {
	if meta == nil || meta.Email == nil {
		return Result{}, errors.New("postmaster: parsed message required")
	}
	if tp.tickets == nil || tp.comments == nil {
		return Result{}, errors.New("postmaster: ticket store unavailable")
	}
	email := meta.Email
	log := tp.logger.With(zap.String("subject", email.Subject))
	if meta.Message != nil {
		log = log.With(zap.String("queue_id", meta.Message.QueueID), zap.String("uid", meta.Message.UID))
	}

	if tp.alreadyIngested(ctx, log, email.MessageID) {
		log.Info("skipping duplicate message", zap.String("message_id", email.MessageID))
		return Result{Action: ActionDuplicate}, nil
	}

	var (
		res Result
		err error
	)
	if filters.IsReply(meta.Annotations) {
		res, err = tp.followUp(ctx, meta)
	} else {
		res, err = tp.newTicket(ctx, email)
	}
	if err != nil {
		return res, err
	}

	tp.remember(ctx, log, email.MessageID)
	return res, nil
}

func (tp *TicketProcessor) followUp(ctx context.Context, meta *filters.MessageContext) (Result, error) {
	email := meta.Email
	number, ok := filters.TicketNumber(meta.Annotations)
	if !ok {
		return Result{}, &inbound.TicketReferenceError{Subject: email.Subject}
	}
	ticket, err := tp.tickets.FindTicketByNumber(ctx, number)
	if err != nil {
		return Result{}, persistErr("find ticket", err)
	}
	if ticket == nil {
		return Result{}, &inbound.TicketNotFoundError{Number: number}
	}

	commentID, err := tp.comments.CreateComment(ctx, models.NewCommentInput{
		TicketID:   ticket.ID,
		Text:       replyText(email),
		ReplyEmail: email.FromAddress,
		Public:     true,
	})
	if err != nil {
		return Result{}, persistErr("create comment", err)
	}
	return Result{
		Action:       ActionFollowUp,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
		CommentID:    commentID,
	}, nil
}

func (tp *TicketProcessor) newTicket(ctx context.Context, email *parser.InboundEmail) (Result, error) {
	record := &models.ImapEmail{
		From:    email.FromAddress,
		Subject: orDefault(email.Subject, NoSubject),
		Body:    orDefault(email.Text, NoBody),
		HTML:    email.HTML,
		Text:    email.TextAsHTML,
	}
	ticket, err := tp.tickets.CreateTicketFromEmail(ctx, record, models.NewTicketInput{
		Email:    email.FromAddress,
		Name:     email.FromName,
		Title:    orDefault(email.Subject, NoTitle),
		Detail:   orDefault(email.HTML, email.TextAsHTML),
		Priority: tp.priority,
		FromImap: true,
	})
	if err != nil {
		return Result{}, persistErr("create ticket", err)
	}
	return Result{
		Action:       ActionNewTicket,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
	}, nil
}

// replyText keeps only what the sender wrote above the quoted history.
func replyText(email *parser.InboundEmail) string {
	if email.Text == "" {
		return NoBody
	}
	return replyparser.VisibleText(email.Text)
}

func (tp *TicketProcessor) alreadyIngested(ctx context.Context, log *zap.Logger, messageID string) bool {
	if tp.deduper == nil || messageID == "" {
		return false
	}
	seen, err := tp.deduper.Seen(ctx, messageID)
	if err != nil {
		log.Warn("dedupe lookup failed", zap.Error(err))
		return false
	}
	return seen
}

func (tp *TicketProcessor) remember(ctx context.Context, log *zap.Logger, messageID string) {
	if tp.deduper == nil || messageID == "" {
		return
	}
	if err := tp.deduper.Remember(ctx, messageID); err != nil {
		log.Warn("dedupe record failed", zap.Error(err))
	}
}

func persistErr(op string, err error) error {
	return &inbound.PersistenceError{Op: op, Err: err, Rejected: errors.Is(err, repository.ErrInvalidData)}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
