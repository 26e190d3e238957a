package smtpconn

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
)

// loginAuth implements the AUTH LOGIN exchange, which net/smtp does not ship.
type loginAuth struct {
	user string
	pass string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.user), nil
	case "password:":
		return []byte(a.pass), nil
	}
	return nil, errors.Errorf("unexpected LOGIN challenge %q", fromServer)
}

// xoauth2Auth implements the XOAUTH2 bearer-token exchange. On failure the
// server sends a base64 JSON challenge; replying with an empty line elicits
// the final status so the error surfaces through the usual path.
type xoauth2Auth struct {
	user  string
	token string
}

func (a *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.user, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}
