// Package message provides the mutable parameter container exchanged between the
// transport adapter and the protocol engine, together with typed accessors for the
// OAuth 2.0 and OpenID Connect parameters the engine reasons about.
package message

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Kind describes what a message represents. It is only used for diagnostics.
type Kind string

const (
	KindAuthorizationRequest Kind = "authorization-request"
	KindTokenRequest         Kind = "token-request"
	KindRevocationRequest    Kind = "revocation-request"
	KindResponse             Kind = "response"
)

// Parameter is a single name/value pair.
type Parameter struct {
	Name  string
	Value string
}

// Message is an ordered set of parameters. A name appears at most once; setting an
// existing name replaces its value and keeps its original position.
// A Message is request-scoped and must not be shared across requests.
type Message struct {
	kind   Kind
	params []Parameter
	index  map[string]int
}

// New creates an empty message of the given kind.
func New(kind Kind) *Message {
	return &Message{
		kind:  kind,
		index: make(map[string]int),
	}
}

// FromValues builds a message from transport values. Parameters included more than
// once are rejected, as required by RFC 6749 section 3.1. An explicitly empty
// parameter is kept, so Merge does not refill it.
func FromValues(kind Kind, values url.Values) (*Message, error) {
	m := New(kind)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	// url.Values has no order; sort for deterministic encoding.
	slices.Sort(names)

	for _, name := range names {
		vals := values[name]
		if len(vals) > 1 {
			return nil, fmt.Errorf("parameter %q is included more than once", name)
		}
		if len(vals) == 1 {
			m.put(name, vals[0])
		}
	}
	return m, nil
}

// Kind returns the message kind.
func (m *Message) Kind() Kind {
	return m.kind
}

// Get returns the value of a parameter, or "" when absent.
func (m *Message) Get(name string) string {
	if i, ok := m.index[name]; ok {
		return m.params[i].Value
	}
	return ""
}

// Lookup returns the value of a parameter and whether it is present.
func (m *Message) Lookup(name string) (string, bool) {
	i, ok := m.index[name]
	if !ok {
		return "", false
	}
	return m.params[i].Value, true
}

// Has reports whether a parameter is present with a non-empty value.
func (m *Message) Has(name string) bool {
	return m.Get(name) != ""
}

// Set adds or replaces a parameter. An empty value removes it.
func (m *Message) Set(name, value string) {
	if value == "" {
		m.Remove(name)
		return
	}
	m.put(name, value)
}

func (m *Message) put(name, value string) {
	if i, ok := m.index[name]; ok {
		m.params[i].Value = value
		return
	}
	m.index[name] = len(m.params)
	m.params = append(m.params, Parameter{Name: name, Value: value})
}

// Remove deletes a parameter if present.
func (m *Message) Remove(name string) {
	i, ok := m.index[name]
	if !ok {
		return
	}
	m.params = append(m.params[:i], m.params[i+1:]...)
	delete(m.index, name)
	for j := i; j < len(m.params); j++ {
		m.index[m.params[j].Name] = j
	}
}

// Len returns the number of parameters.
func (m *Message) Len() int {
	return len(m.params)
}

// Names returns the parameter names in insertion order.
func (m *Message) Names() []string {
	names := make([]string, len(m.params))
	for i, p := range m.params {
		names[i] = p.Name
	}
	return names
}

// Parameters returns a copy of the parameters in insertion order.
func (m *Message) Parameters() []Parameter {
	out := make([]Parameter, len(m.params))
	copy(out, m.params)
	return out
}

// Merge copies the parameters of other that are not already present in m.
// Values already present in m are authoritative and never overwritten.
func (m *Message) Merge(other []Parameter) {
	for _, p := range other {
		if _, ok := m.index[p.Name]; ok {
			continue
		}
		m.Set(p.Name, p.Value)
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := New(m.kind)
	for _, p := range m.params {
		c.Set(p.Name, p.Value)
	}
	return c
}

// Values converts the message to url.Values.
func (m *Message) Values() url.Values {
	v := make(url.Values, len(m.params))
	for _, p := range m.params {
		v.Set(p.Name, p.Value)
	}
	return v
}

// String renders the message for diagnostics, masking credentials.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(string(m.kind))
	b.WriteString("{")
	for i, p := range m.params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString("=")
		if isSensitive(p.Name) {
			b.WriteString("[redacted]")
		} else {
			b.WriteString(p.Value)
		}
	}
	b.WriteString("}")
	return b.String()
}

func isSensitive(name string) bool {
	switch name {
	case ParamClientSecret, ParamCode, ParamAccessToken, ParamRefreshToken,
		ParamIDToken, ParamPassword, ParamToken, ParamCodeVerifier:
		return true
	}
	return false
}
