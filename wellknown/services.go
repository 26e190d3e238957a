// Package wellknown maps provider names to their SMTP endpoints so callers
// can configure a sender with a service name instead of host/port details.
package wellknown

import "strings"

// Service describes the SMTP endpoint of a well-known mail provider.
type Service struct {
	Host   string
	Port   int
	Secure bool
	// Aliases are alternative lookup keys, including common mail domains.
	Aliases []string
}

var services = map[string]Service{
	"gmail":      {Host: "smtp.gmail.com", Port: 465, Secure: true, Aliases: []string{"googlemail", "gmail.com", "googlemail.com"}},
	"outlook365": {Host: "smtp.office365.com", Port: 587, Aliases: []string{"office365", "outlook", "outlook.com"}},
	"hotmail":    {Host: "smtp-mail.outlook.com", Port: 587, Aliases: []string{"hotmail.com", "live.com"}},
	"yahoo":      {Host: "smtp.mail.yahoo.com", Port: 465, Secure: true, Aliases: []string{"yahoo.com"}},
	"icloud":     {Host: "smtp.mail.me.com", Port: 587, Aliases: []string{"me.com", "mac.com"}},
	"fastmail":   {Host: "smtp.fastmail.com", Port: 465, Secure: true, Aliases: []string{"fastmail.com"}},
	"zoho":       {Host: "smtp.zoho.com", Port: 465, Secure: true, Aliases: []string{"zoho.com"}},
	"gmx":        {Host: "mail.gmx.com", Port: 465, Secure: true, Aliases: []string{"gmx.com", "gmx.net"}},
	"yandex":     {Host: "smtp.yandex.ru", Port: 465, Secure: true, Aliases: []string{"yandex.ru", "yandex.com"}},

	"ses":           {Host: "email-smtp.us-east-1.amazonaws.com", Port: 465, Secure: true},
	"ses-us-east-1": {Host: "email-smtp.us-east-1.amazonaws.com", Port: 465, Secure: true},
	"ses-us-west-2": {Host: "email-smtp.us-west-2.amazonaws.com", Port: 465, Secure: true},
	"ses-eu-west-1": {Host: "email-smtp.eu-west-1.amazonaws.com", Port: 465, Secure: true},

	"sendgrid":  {Host: "smtp.sendgrid.net", Port: 587},
	"mailgun":   {Host: "smtp.mailgun.org", Port: 465, Secure: true},
	"postmark":  {Host: "smtp.postmarkapp.com", Port: 2525, Aliases: []string{"postmarkapp"}},
	"sparkpost": {Host: "smtp.sparkpostmail.com", Port: 587},
	"mailjet":   {Host: "in-v3.mailjet.com", Port: 587},
	"mandrill":  {Host: "smtp.mandrillapp.com", Port: 587},
}

// normalizeKey lowercases a service name and strips whitespace, dots and
// dashes so "Gmail", "gmail.com" and "SES-US-East-1" all resolve.
func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch r {
		case ' ', '\t', '.', '-', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var byNormalizedKey = func() map[string]Service {
	m := make(map[string]Service, len(services)*2)
	for name, svc := range services {
		m[normalizeKey(name)] = svc
		for _, alias := range svc.Aliases {
			m[normalizeKey(alias)] = svc
		}
	}
	return m
}()

// Lookup resolves a service name or alias to its endpoint.
func Lookup(name string) (Service, bool) {
	svc, ok := byNormalizedKey[normalizeKey(name)]
	return svc, ok
}
