package filters

import (
	"context"

	"go.uber.org/zap"
)

// SubjectTokenFilter extracts "#123" ticket references from the subject.
type SubjectTokenFilter struct {
	logger *zap.Logger
}

// NewSubjectTokenFilter constructs the filter instance.
func NewSubjectTokenFilter(logger *zap.Logger) *SubjectTokenFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectTokenFilter{logger: logger}
}

// ID implements Filter.
func (f *SubjectTokenFilter) ID() string { return "followup_subject_token" }

// Apply stores the first ticket number found in the subject.
func (f *SubjectTokenFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Email == nil || m.Email.Subject == "" {
		return nil
	}
	number, ok := findTicketToken(m.Email.Subject)
	if !ok {
		return nil
	}
	m.Annotate(AnnotationFollowUpTicketNumber, number)
	f.logger.Debug("detected ticket reference", zap.Int("ticket_number", number))
	return nil
}
