// Package clients is a static client and user registry for the bundled
// server. It implements the provider hooks: redirect_uri matching, client
// authentication with bcrypt-hashed secrets, the password and client
// credentials grants, single-use authorization codes and refresh token
// revocation.
//
// Secrets and passwords are never stored in clear; use HashSecret to produce
// the values of SecretHash and PasswordHash.
package clients
