package oauth2

import (
	"encoding/base64"
	"fmt"

	"github.com/emersion/go-sasl"
)

// XOAuth2 is the SASL mechanism name.
const XOAuth2 = "XOAUTH2"

// GenerateXOAuth2Token builds the base64 encoded XOAUTH2 initial response.
func GenerateXOAuth2Token(username, accessToken string) string {
	return base64.StdEncoding.EncodeToString(xoauth2Response(username, accessToken))
}

func xoauth2Response(username, accessToken string) []byte {
	return []byte("user=" + username + "\x01auth=Bearer " + accessToken + "\x01\x01")
}

type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2Client returns a SASL client authenticating username with an
// OAuth2 bearer token.
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, token: accessToken}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	return XOAuth2, xoauth2Response(c.username, c.token), nil
}

// Next is only reached when the server rejects the token; the challenge
// carries a JSON error document.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("xoauth2 rejected: %s", challenge)
}
