package filters

const (
	AnnotationIsReply              = "postmaster.is_reply"
	AnnotationFollowUpTicketNumber = "postmaster.follow_up_ticket_number"
)

// IsReply reports whether the reply classifier flagged the message.
func IsReply(annotations map[string]any) bool {
	v, _ := annotations[AnnotationIsReply].(bool)
	return v
}

// TicketNumber returns the ticket number found in the subject, if any.
func TicketNumber(annotations map[string]any) (int, bool) {
	n, ok := annotations[AnnotationFollowUpTicketNumber].(int)
	return n, ok
}
