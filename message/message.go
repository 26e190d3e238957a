// Package message builds RFC 5322 mail for submission through the pool. A
// Message carries ordered headers, a body, and an optional explicit envelope
// that overrides the addresses derived from the headers.
package message

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Envelope is the SMTP envelope: the reverse path and the recipient list.
type Envelope struct {
	From string
	To   []string
}

type header struct {
	name  string
	value string
}

// Message is a mail under construction. The zero value is usable.
type Message struct {
	headers    []header
	body       []byte
	bodyReader io.Reader
	envelope   *Envelope
}

// New returns an empty message.
func New() *Message {
	return &Message{}
}

// Compose builds a plain-text message with the usual header set, including a
// generated Message-Id. Callers that need full control use New and SetHeader.
func Compose(from string, to []string, subject, body string) *Message {
	m := New()
	m.SetHeader("From", from)
	m.SetHeader("To", strings.Join(to, ", "))
	m.SetHeader("Subject", subject)
	m.SetHeader("Date", time.Now().Format(time.RFC1123Z))
	m.SetHeader("Message-Id", m.generateMessageID(from))
	m.SetHeader("MIME-Version", "1.0")
	m.SetHeader("Content-Type", "text/plain; charset=\"UTF-8\"")
	m.SetBody([]byte(body))
	return m
}

// SetHeader sets a header, replacing any previous value under the same
// canonical name.
func (m *Message) SetHeader(name, value string) {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for i := range m.headers {
		if m.headers[i].name == canonical {
			m.headers[i].value = value
			return
		}
	}
	m.headers = append(m.headers, header{name: canonical, value: value})
}

// Header returns the value of the named header, or "" when unset.
func (m *Message) Header(name string) string {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for _, h := range m.headers {
		if h.name == canonical {
			return h.value
		}
	}
	return ""
}

// SetBody sets an in-memory body. Overrides any previous body or body reader.
func (m *Message) SetBody(body []byte) {
	m.body = body
	m.bodyReader = nil
}

// SetBodyReader sets a streaming body. The reader is consumed once, on the
// first NewReader call.
func (m *Message) SetBodyReader(r io.Reader) {
	m.bodyReader = r
	m.body = nil
}

// SetEnvelope pins the SMTP envelope explicitly, overriding header-derived
// addresses.
func (m *Message) SetEnvelope(env Envelope) {
	m.envelope = &env
}

// Envelope returns the explicit envelope when one was set, otherwise derives
// one from the From, To, Cc and Bcc headers.
func (m *Message) Envelope() (Envelope, error) {
	if m.envelope != nil {
		return *m.envelope, nil
	}

	from := m.Header("From")
	if from == "" {
		return Envelope{}, errors.New("message: no envelope and no From header")
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "message: parse From header")
	}

	env := Envelope{From: addr.Address}
	for _, name := range []string{"To", "Cc", "Bcc"} {
		v := m.Header(name)
		if v == "" {
			continue
		}
		list, err := mail.ParseAddressList(v)
		if err != nil {
			return Envelope{}, errors.Wrapf(err, "message: parse %s header", name)
		}
		for _, a := range list {
			env.To = append(env.To, a.Address)
		}
	}
	if len(env.To) == 0 {
		return Envelope{}, errors.New("message: no recipients")
	}
	return env, nil
}

// MessageID returns the Message-Id header with angle brackets and whitespace
// stripped, or "" when the header is absent.
func (m *Message) MessageID() string {
	id := m.Header("Message-Id")
	return strings.NewReplacer("<", "", ">", "", " ", "", "\t", "").Replace(id)
}

func (m *Message) generateMessageID(from string) string {
	domain := "mailpool"
	if addr, err := mail.ParseAddress(from); err == nil {
		if i := strings.LastIndex(addr.Address, "@"); i >= 0 {
			domain = addr.Address[i+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// NewReader returns the full wire form of the message: headers, a blank
// line, then the body with bare LF normalized to CRLF. Bcc is excluded from
// the emitted headers.
func (m *Message) NewReader() io.Reader {
	var head bytes.Buffer
	for _, h := range m.headers {
		if h.name == "Bcc" {
			continue
		}
		head.WriteString(h.name)
		head.WriteString(": ")
		head.WriteString(h.value)
		head.WriteString("\r\n")
	}
	head.WriteString("\r\n")

	body := m.bodyReader
	if body == nil {
		body = bytes.NewReader(m.body)
	}
	return io.MultiReader(&head, NormalizeReader(body))
}
