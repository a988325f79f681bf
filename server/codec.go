package server

import (
	"context"

	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/ticket"
)

// TokenCodec turns tickets into token strings and back. The engine treats
// tokens as opaque.
//
// Serialize methods receive an independent copy of the ticket; a codec may set
// Properties.ExpiresAt to record the absolute expiry it assigned. The response
// argument holds the artifacts issued so far, so an identity token can bind to
// the code and access token through c_hash and at_hash. An empty string with a
// nil error is treated as a misconfiguration.
//
// Deserialize methods return (nil, nil) for tokens that do not resolve: bad
// signature, wrong token usage, malformed input. Expiry is checked by the engine.
type TokenCodec interface {
	SerializeAuthorizationCode(ctx context.Context, t *ticket.Ticket, request, response *message.Message) (string, error)
	SerializeAccessToken(ctx context.Context, t *ticket.Ticket, request, response *message.Message) (string, error)
	SerializeIdentityToken(ctx context.Context, t *ticket.Ticket, request, response *message.Message) (string, error)
	SerializeRefreshToken(ctx context.Context, t *ticket.Ticket, request, response *message.Message) (string, error)

	DeserializeAuthorizationCode(ctx context.Context, token string, request *message.Message) (*ticket.Ticket, error)
	DeserializeAccessToken(ctx context.Context, token string, request *message.Message) (*ticket.Ticket, error)
	DeserializeRefreshToken(ctx context.Context, token string, request *message.Message) (*ticket.Ticket, error)
}
