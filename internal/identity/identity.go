// Package identity derives bot-session identities from inbound platform user
// identifiers.
//
// Grammar:
//
//	raw      = user [ "@" annotation ]
//	identity = user "." bot "@" domain
//
// The user part is the bare platform id (a phone number for WhatsApp). Any
// transport annotation after the first "@" (for example "@c.us") is dropped.
package identity

import (
	"errors"
	"strings"
)

// ErrInvalidIdentity is returned when an identity component is empty or the
// identity string does not follow the grammar.
var ErrInvalidIdentity = errors.New("invalid identity")

// Canonicalize strips any "@annotation" suffix and surrounding whitespace from
// a raw inbound user identifier.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// Build returns "{userID}.{botID}@{domain}". Empty components fail with
// ErrInvalidIdentity.
func Build(userID, botID, domain string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(botID) == "" || strings.TrimSpace(domain) == "" {
		return "", ErrInvalidIdentity
	}
	return userID + "." + botID + "@" + domain, nil
}

// Session is a parsed session identity.
type Session struct {
	UserID string
	BotID  string
	Domain string
}

// String renders s back into its identity form.
func (s Session) String() string {
	return s.UserID + "." + s.BotID + "@" + s.Domain
}

// Parse splits a session identity into its parts. The user part is taken up to
// the first "." so bot ids may contain dots; phone numbers never do.
func Parse(id string) (Session, error) {
	at := strings.LastIndexByte(id, '@')
	if at <= 0 || at == len(id)-1 {
		return Session{}, ErrInvalidIdentity
	}
	local, domain := id[:at], id[at+1:]
	dot := strings.IndexByte(local, '.')
	if dot <= 0 || dot == len(local)-1 {
		return Session{}, ErrInvalidIdentity
	}
	return Session{UserID: local[:dot], BotID: local[dot+1:], Domain: domain}, nil
}
