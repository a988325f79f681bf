// Package codec provides a JWT implementation of server.TokenCodec.
//
// Every artifact is a signed JWT carrying a token_usage claim, so an access
// token can never be redeemed as a refresh token or an authorization code.
// Ticket properties travel in a private claim and are restored on
// deserialization. Identity tokens are plain OpenID Connect ID tokens with
// nonce, at_hash and c_hash.
//
// Supported signing methods are the HMAC (HS*), RSA (RS*) and ECDSA (ES*)
// families. Tokens are signed, not encrypted: do not put secrets into
// principal claims or ticket properties.
package codec
