package imap

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 mechanism Yahoo's IMAP servers
// accept for OAuth bearer tokens. go-sasl ships OAUTHBEARER but not the
// older XOAUTH2 scheme, so the exchange is built here.
type xoauth2Client struct {
	username string
	token    string
	failed   bool
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

// Start returns the XOAUTH2 initial response:
//
//	user=<username>^Aauth=Bearer <token>^A^A
func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

// Next handles the error blob the server sends when the token is rejected.
// Replying with an empty response prompts the server to finish with its
// tagged NO, so the real failure surfaces from Authenticate.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if c.failed {
		return nil, fmt.Errorf("xoauth2: unexpected challenge: %q", challenge)
	}
	c.failed = true
	return []byte{}, nil
}
