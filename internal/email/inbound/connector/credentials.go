package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
	"github.com/peppermint-lab/peppermint/internal/oauth2"
)

// Authentication mechanisms.
const (
	MechanismLogin   = "LOGIN"
	MechanismXOAuth2 = oauth2.XOAuth2
)

const (
	portIMAPS = 993
	portIMAP  = 143
)

// Credential is the resolved authentication material for one account.
type Credential struct {
	Mechanism string
	Username  string
	secret    string
}

// ResolveCredential builds the credential for account. OAuth2 accounts get
// a fresh access token from their TokenSource; generic accounts must carry
// a password.
func ResolveCredential(ctx context.Context, account Account) (Credential, error) {
	username := strings.TrimSpace(account.Username)
	if username == "" {
		return Credential{}, &inbound.ConfigurationError{QueueID: account.QueueID, Reason: "username not set"}
	}

	switch normalizeKind(account.Kind) {
	case KindOAuth2:
		if account.Tokens == nil {
			return Credential{}, &inbound.ConfigurationError{QueueID: account.QueueID, Reason: "oauth2 queue has no token source"}
		}
		token, err := account.Tokens.AccessToken(ctx)
		if err != nil {
			if inbound.Kind(err) != inbound.KindUnknown {
				return Credential{}, err
			}
			return Credential{}, &inbound.ConnectionError{QueueID: account.QueueID, Op: "oauth2 token", Err: err}
		}
		return Credential{Mechanism: MechanismXOAuth2, Username: username, secret: token}, nil
	case KindGeneric:
		if len(account.Password) == 0 {
			return Credential{}, &inbound.ConfigurationError{QueueID: account.QueueID, Reason: "password not set"}
		}
		return Credential{Mechanism: MechanismLogin, Username: username, secret: string(account.Password)}, nil
	default:
		return Credential{}, &inbound.ConfigurationError{
			QueueID: account.QueueID,
			Reason:  fmt.Sprintf("unsupported service type %q", account.Kind),
		}
	}
}

func (c Credential) authenticate(client imapClient) error {
	if c.Mechanism == MechanismXOAuth2 {
		return client.Authenticate(oauth2.NewXOAuth2Client(c.Username, c.secret))
	}
	return client.Login(c.Username, c.secret).Wait()
}

// Endpoint is the resolved network location of a mailbox.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// EndpointFor resolves where account lives. OAuth2 accounts always use
// implicit TLS on 993; generic ones use 993 with TLS and 143 without.
func EndpointFor(account Account) (Endpoint, error) {
	host := strings.TrimSpace(account.Host)
	if host == "" {
		return Endpoint{}, &inbound.ConfigurationError{QueueID: account.QueueID, Reason: "hostname not set"}
	}
	useTLS := account.TLS || normalizeKind(account.Kind) == KindOAuth2
	port := account.Port
	if port == 0 {
		port = portIMAP
		if useTLS {
			port = portIMAPS
		}
	}
	return Endpoint{Host: host, Port: port, TLS: useTLS}, nil
}

// RelaxedTLS accepts self-signed and hostname-mismatched server
// certificates. This is a deliberate trade-off for self-hosted mail
// servers; enable mail.imap.strict_tls to verify certificates.
func RelaxedTLS(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, //nolint:gosec // see RelaxedTLS doc
		MinVersion:         tls.VersionTLS12,
	}
}

// StrictTLS verifies the server certificate against host.
func StrictTLS(host string) *tls.Config {
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}
