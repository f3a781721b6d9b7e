package filters

import (
	"context"
	"fmt"
	"strings"
)

// ReplyMatch selects how strictly a subject is recognised as a reply.
type ReplyMatch string

const (
	// ReplyMatchContains flags any subject containing "Re:" (case-sensitive).
	ReplyMatchContains ReplyMatch = "contains"
	// ReplyMatchPrefix only flags subjects starting with "Re:" in any case.
	ReplyMatchPrefix ReplyMatch = "prefix"
)

const replyMarker = "Re:"

// ParseReplyMatch validates a configured mode; empty means contains.
func ParseReplyMatch(value string) (ReplyMatch, error) {
	switch ReplyMatch(strings.ToLower(strings.TrimSpace(value))) {
	case "", ReplyMatchContains:
		return ReplyMatchContains, nil
	case ReplyMatchPrefix:
		return ReplyMatchPrefix, nil
	default:
		return "", fmt.Errorf("unknown reply match mode %q", value)
	}
}

// ReplyFilter marks messages whose subject looks like a reply.
type ReplyFilter struct {
	mode ReplyMatch
}

// NewReplyFilter returns a classifier using mode.
func NewReplyFilter(mode ReplyMatch) *ReplyFilter {
	if mode == "" {
		mode = ReplyMatchContains
	}
	return &ReplyFilter{mode: mode}
}

// ID implements Filter.
func (f *ReplyFilter) ID() string { return "reply_classifier" }

// Apply sets AnnotationIsReply.
func (f *ReplyFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Email == nil {
		return nil
	}
	m.Annotate(AnnotationIsReply, f.IsReplySubject(m.Email.Subject))
	return nil
}

// IsReplySubject applies the configured rule to subject.
func (f *ReplyFilter) IsReplySubject(subject string) bool {
	if f.mode == ReplyMatchPrefix {
		trimmed := strings.TrimSpace(subject)
		return len(trimmed) >= len(replyMarker) && strings.EqualFold(trimmed[:len(replyMarker)], replyMarker)
	}
	return strings.Contains(subject, replyMarker)
}
