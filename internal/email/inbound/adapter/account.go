package adapter

import (
	"context"
	"strings"

	"github.com/peppermint-lab/peppermint/internal/email/inbound/connector"
	"github.com/peppermint-lab/peppermint/internal/models"
)

// AccessTokenProvider returns a valid OAuth2 access token for a queue.
type AccessTokenProvider interface {
	GetValidAccessToken(ctx context.Context, queue *models.EmailQueue) (string, error)
}

// AccountFromModel converts a persisted mail queue to the connector payload.
// tokens is only consulted for OAuth2 queues and may be nil otherwise.
func AccountFromModel(model *models.EmailQueue, tokens AccessTokenProvider) connector.Account {
	if model == nil {
		return connector.Account{}
	}

	kind := strings.ToLower(strings.TrimSpace(model.ServiceType))
	acct := connector.Account{
		QueueID:  model.ID,
		Name:     model.Name,
		Kind:     kind,
		Host:     strings.TrimSpace(model.Hostname),
		TLS:      model.TLS,
		Username: strings.TrimSpace(model.Username),
		Password: []byte(model.PasswordValue()),
	}
	if kind == connector.KindOAuth2 && tokens != nil {
		acct.Tokens = connector.TokenSourceFunc(func(ctx context.Context) (string, error) {
			return tokens.GetValidAccessToken(ctx, model)
		})
	}
	return acct
}
