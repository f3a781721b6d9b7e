package models

import "time"

// DefaultTicketPriority is assigned to tickets opened from inbound email.
const DefaultTicketPriority = "low"

// Ticket is a support request identified by its sequential Number.
type Ticket struct {
	ID         string    `json:"id" db:"id"`
	Number     int       `json:"Number" db:"Number"`
	Title      string    `json:"title" db:"title"`
	Detail     string    `json:"detail" db:"detail"`
	Email      string    `json:"email" db:"email"`
	Name       string    `json:"name" db:"name"`
	IsComplete bool      `json:"isComplete" db:"isComplete"`
	Priority   string    `json:"priority" db:"priority"`
	FromImap   bool      `json:"fromImap" db:"fromImap"`
	CreatedAt  time.Time `json:"createdAt" db:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updatedAt"`
}

// Comment is a note or reply attached to a ticket.
type Comment struct {
	ID         string    `json:"id" db:"id"`
	Text       string    `json:"text" db:"text"`
	Public     bool      `json:"public" db:"public"`
	Reply      bool      `json:"reply" db:"reply"`
	ReplyEmail *string   `json:"replyEmail,omitempty" db:"replyEmail"`
	TicketID   string    `json:"ticketId" db:"ticketId"`
	UserID     *string   `json:"userId,omitempty" db:"userId"`
	CreatedAt  time.Time `json:"createdAt" db:"createdAt"`
}

// NewTicketInput holds the fields for a ticket opened by an inbound email.
type NewTicketInput struct {
	Email    string
	Name     string
	Title    string
	Detail   string
	Priority string
	FromImap bool
}

// NewCommentInput holds the fields for a comment appended by an email reply.
type NewCommentInput struct {
	TicketID   string
	Text       string
	ReplyEmail string
	Public     bool
}
