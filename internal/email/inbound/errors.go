// Package inbound holds the error taxonomy shared by the inbound mail pipeline.
package inbound

import (
	"errors"
	"fmt"
)

// Error kinds used as structured log fields and metric labels.
const (
	KindConfiguration   = "configuration"
	KindConnection      = "connection"
	KindParse           = "parse"
	KindTicketReference = "ticket_reference"
	KindTicketNotFound  = "ticket_not_found"
	KindPersistence     = "persistence"
	KindUnknown         = "unknown"
)

// ConfigurationError reports a misconfigured mail queue. Fatal to that queue only.
type ConfigurationError struct {
	QueueID string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.QueueID == "" {
		return "mail queue misconfigured: " + e.Reason
	}
	return fmt.Sprintf("mail queue %s misconfigured: %s", e.QueueID, e.Reason)
}

// ConnectionError wraps transport, handshake and authentication failures.
type ConnectionError struct {
	QueueID string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap %s (queue %s): %v", e.Op, e.QueueID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ParseError reports a message whose MIME structure could not be decoded.
type ParseError struct {
	UID string
	Err error
}

func (e *ParseError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("parse message: %v", e.Err)
	}
	return fmt.Sprintf("parse message %s: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TicketReferenceError is returned when a reply subject carries no #<number>.
type TicketReferenceError struct {
	Subject string
}

func (e *TicketReferenceError) Error() string {
	return fmt.Sprintf("could not extract ticket number from subject: %q", e.Subject)
}

// TicketNotFoundError is returned when the referenced ticket number does not exist.
type TicketNotFoundError struct {
	Number int
}

func (e *TicketNotFoundError) Error() string {
	return fmt.Sprintf("ticket not found: #%d", e.Number)
}

// PersistenceError wraps a failed write or lookup against the ticket store.
// Rejected is set when the store refused the message content itself.
type PersistenceError struct {
	Op       string
	Err      error
	Rejected bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPermanent reports whether a message-level failure can never succeed on
// a later cycle. Permanent failures are dropped; everything else is retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var (
		parseErr *ParseError
		refErr   *TicketReferenceError
		nfErr    *TicketNotFoundError
		dbErr    *PersistenceError
	)
	if errors.As(err, &dbErr) {
		return dbErr.Rejected
	}
	return errors.As(err, &parseErr) || errors.As(err, &refErr) || errors.As(err, &nfErr)
}

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	var (
		cfgErr   *ConfigurationError
		connErr  *ConnectionError
		parseErr *ParseError
		refErr   *TicketReferenceError
		nfErr    *TicketNotFoundError
		dbErr    *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &refErr):
		return KindTicketReference
	case errors.As(err, &nfErr):
		return KindTicketNotFound
	case errors.As(err, &dbErr):
		return KindPersistence
	default:
		return KindUnknown
	}
}
