package models

import (
	"time"
)

// Mail queue service types.
const (
	ServiceTypeGmail = "gmail"
	ServiceTypeOther = "other"
)

// EmailQueue is one configured mailbox polled for inbound support email.
type EmailQueue struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Username     string    `json:"username" db:"username"`
	Password     *string   `json:"-" db:"password"`
	Hostname     string    `json:"hostname" db:"hostname"`
	TLS          bool      `json:"tls" db:"tls"`
	ServiceType  string    `json:"serviceType" db:"serviceType"`
	ClientID     *string   `json:"clientId,omitempty" db:"clientId"`
	ClientSecret *string   `json:"-" db:"clientSecret"`
	RefreshToken *string   `json:"-" db:"refreshToken"`
	AccessToken  *string   `json:"-" db:"accessToken"`
	ExpiresIn    *int64    `json:"expiresIn,omitempty" db:"expiresIn"`
	RedirectURI  *string   `json:"redirectUri,omitempty" db:"redirectUri"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"createdAt" db:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updatedAt"`
}

// PasswordValue returns the stored password or an empty string.
func (q *EmailQueue) PasswordValue() string {
	if q == nil || q.Password == nil {
		return ""
	}
	return *q.Password
}

// TokenExpiry converts the stored millisecond expiry into a time.Time.
func (q *EmailQueue) TokenExpiry() time.Time {
	if q == nil || q.ExpiresIn == nil || *q.ExpiresIn <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(*q.ExpiresIn)
}

// ImapEmail is the stored snapshot of an email that opened a new ticket.
type ImapEmail struct {
	ID        string    `json:"id" db:"id"`
	From      string    `json:"from" db:"from"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	HTML      string    `json:"html" db:"html"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"createdAt"`
}

// QueueTokens carries a refreshed OAuth2 grant back to the queue row.
type QueueTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
