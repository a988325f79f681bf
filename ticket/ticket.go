// Package ticket defines the principal and properties bundle that an issued token
// is bound to, and that is recovered when a token is deserialized.
package ticket

import (
	"maps"
	"strings"
	"time"
)

// ClaimSubject is the unique subject identifier claim.
const ClaimSubject = "sub"

// Property keys used by the engine. Codecs persist them alongside the principal.
const (
	PropertyPresenters          = ".presenters"
	PropertyResources           = ".resources"
	PropertyScopes              = ".scopes"
	PropertyRedirectURI         = ".redirect_uri"
	PropertyNonce               = ".nonce"
	PropertyCodeChallenge       = ".code_challenge"
	PropertyCodeChallengeMethod = ".code_challenge_method"
	PropertyConfidential        = ".confidential"
	PropertyTokenUsage          = ".token_usage"
)

// Principal is the authenticated identity a ticket is issued for.
type Principal struct {
	Claims map[string]any
}

// NewPrincipal creates a principal with the given subject and extra claims.
func NewPrincipal(subject string, claims map[string]any) *Principal {
	p := &Principal{Claims: make(map[string]any, len(claims)+1)}
	maps.Copy(p.Claims, claims)
	if subject != "" {
		p.Claims[ClaimSubject] = subject
	}
	return p
}

// Anonymous returns a principal without claims.
func Anonymous() *Principal {
	return &Principal{Claims: map[string]any{}}
}

// Subject returns the sub claim, or "" when absent.
func (p *Principal) Subject() string {
	if p == nil {
		return ""
	}
	s, _ := p.Claims[ClaimSubject].(string)
	return s
}

// Clone returns a shallow copy of the claim set.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	return &Principal{Claims: maps.Clone(p.Claims)}
}

// Properties carries the metadata attached to a ticket.
type Properties struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Items     map[string]string
}

// NewProperties creates an empty property bag.
func NewProperties() *Properties {
	return &Properties{Items: make(map[string]string)}
}

// Clone returns an independent copy; mutating the copy never affects the original.
func (p *Properties) Clone() *Properties {
	if p == nil {
		return NewProperties()
	}
	c := &Properties{
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
		Items:     maps.Clone(p.Items),
	}
	if c.Items == nil {
		c.Items = make(map[string]string)
	}
	return c
}

// Get returns a property item.
func (p *Properties) Get(key string) string {
	if p == nil {
		return ""
	}
	return p.Items[key]
}

// Set sets a property item. An empty value removes it.
func (p *Properties) Set(key, value string) {
	if p.Items == nil {
		p.Items = make(map[string]string)
	}
	if value == "" {
		delete(p.Items, key)
		return
	}
	p.Items[key] = value
}

// Presenters returns the client identifiers allowed to present the token.
func (p *Properties) Presenters() []string { return strings.Fields(p.Get(PropertyPresenters)) }

// SetPresenters replaces the presenter list.
func (p *Properties) SetPresenters(presenters ...string) {
	p.Set(PropertyPresenters, strings.Join(presenters, " "))
}

// Resources returns the resource indicators the ticket was issued for.
func (p *Properties) Resources() []string { return strings.Fields(p.Get(PropertyResources)) }

// Scopes returns the scopes granted to the ticket.
func (p *Properties) Scopes() []string { return strings.Fields(p.Get(PropertyScopes)) }

// IsConfidential reports whether the token may only be used by authenticated clients.
func (p *Properties) IsConfidential() bool {
	return p.Get(PropertyConfidential) == "true"
}

// Ticket binds a principal to its properties.
type Ticket struct {
	Principal  *Principal
	Properties *Properties
}

// New creates a ticket. A nil properties argument yields an empty bag.
func New(principal *Principal, properties *Properties) *Ticket {
	if properties == nil {
		properties = NewProperties()
	}
	return &Ticket{Principal: principal, Properties: properties}
}

// IsExpired reports whether the ticket has an expiry that is not after now.
func (t *Ticket) IsExpired(now time.Time) bool {
	if t.Properties == nil || t.Properties.ExpiresAt.IsZero() {
		return false
	}
	return !t.Properties.ExpiresAt.After(now)
}

// IsConfidential reports whether the ticket is marked confidential.
func (t *Ticket) IsConfidential() bool {
	return t.Properties != nil && t.Properties.IsConfidential()
}

// HasPresenter reports whether clientID is one of the authorized presenters.
func (t *Ticket) HasPresenter(clientID string) bool {
	for _, p := range t.Properties.Presenters() {
		if p == clientID {
			return true
		}
	}
	return false
}
