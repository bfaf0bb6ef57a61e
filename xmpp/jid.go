// Package xmpp provides minimal JID (Jabber identifier) handling for the
// call-signaling layer.
//
// A full JID names one connected resource (user@host/resource); a bare JID
// (user@host) may resolve to any number of concurrently connected resources.
// The signaling layer routes invitations by bare JID and sessions by full JID,
// so the distinction matters everywhere.
package xmpp

import (
	"errors"
	"strings"
)

// ErrInvalidJID indicates a string that cannot be parsed as a JID.
var ErrInvalidJID = errors.New("invalid jid")

// JID is a parsed Jabber identifier.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// Parse splits a JID string into its local, domain and resource parts.
// The local part and resource are optional; the domain is not.
func Parse(s string) (JID, error) {
	var j JID

	rest := s
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		j.Resource = rest[slash+1:]
		rest = rest[:slash]
		if j.Resource == "" {
			return JID{}, ErrInvalidJID
		}
	}
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		j.Local = rest[:at]
		rest = rest[at+1:]
		if j.Local == "" {
			return JID{}, ErrInvalidJID
		}
	}
	if rest == "" || strings.ContainsAny(rest, "@/") {
		return JID{}, ErrInvalidJID
	}
	j.Domain = rest

	return j, nil
}

// String reassembles the JID.
func (j JID) String() string {
	var b strings.Builder
	if j.Local != "" {
		b.WriteString(j.Local)
		b.WriteByte('@')
	}
	b.WriteString(j.Domain)
	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}
	return b.String()
}

// Bare returns the JID without its resource.
func (j JID) Bare() string {
	j.Resource = ""
	return j.String()
}

// IsBare reports whether the JID carries no resource.
func (j JID) IsBare() bool {
	return j.Resource == ""
}

// Bare strips the resource from a JID string.
func Bare(s string) string {
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		return s[:slash]
	}
	return s
}

// Resource returns the resource part of a JID string, or "" for a bare JID.
func Resource(s string) string {
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		return s[slash+1:]
	}
	return ""
}

// IsBare reports whether the JID string carries no resource.
func IsBare(s string) bool {
	return strings.IndexByte(s, '/') < 0
}

// SameBare reports whether two JID strings share the same bare form.
func SameBare(a, b string) bool {
	return Bare(a) == Bare(b)
}
