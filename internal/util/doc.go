// Package util provides small helpers shared across the oidc-engine packages.
//
// Key utilities:
//   - SafeTruncate: truncates secrets and identifiers before they reach a log line
//   - NormalizeURL: compares issuer and resource URLs regardless of trailing slashes
//   - ClassifyHost / IsLoopbackHostname: vet the host of a redirect target
package util
