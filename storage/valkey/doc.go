// Package valkey provides a Valkey storage backend for pending authorization requests.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// A shared backend is required when several engine instances serve the same
// issuer: the instance that resumes a flow by request_id is rarely the one that
// stored it.
//
// # Key Schema
//
//	{namespace}{prefix}:{request_id} -> encoded request (SET ... PXAT expiry)
//
// The prefix ("oidc-request" by default) is applied by storage.PendingRequests;
// the optional namespace isolates tenants sharing one Valkey database.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address: "localhost:6379",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Security Considerations
//
//   - Every entry carries an absolute expiry so abandoned flows never accumulate
//   - Key and value sizes are bounded before reaching the server
//   - Enable encryption at rest (storage.PendingRequestsConfig.Encryptor) when
//     the Valkey instance is shared with other applications
package valkey
