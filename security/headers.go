package security

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
)

// FormPostScript is the only inline script served by the engine: it submits
// the form_post response document.
const FormPostScript = "document.forms[0].submit();"

// FormPostScriptHash is the CSP source expression allowing FormPostScript.
var FormPostScriptHash = scriptHash(FormPostScript)

func scriptHash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

// FormPostContentSecurityPolicy is the policy for form_post documents. It
// allows the auto-submit script by hash and nothing else.
func FormPostContentSecurityPolicy() string {
	return "default-src 'none'; script-src '" + FormPostScriptHash + "'; style-src 'unsafe-inline'; frame-ancestors 'none'"
}

// SetSecurityHeaders sets comprehensive security headers on HTTP responses
// These headers protect against various web vulnerabilities
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	setCommonHeaders(w, serverURL)

	// Very strict policy for protocol endpoints (no inline scripts, no external resources)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
}

// SetFormPostSecurityHeaders sets the security headers of a form_post
// document, whose only script is FormPostScript.
func SetFormPostSecurityHeaders(w http.ResponseWriter, serverURL string) {
	setCommonHeaders(w, serverURL)
	w.Header().Set("Content-Security-Policy", FormPostContentSecurityPolicy())
}

func setCommonHeaders(w http.ResponseWriter, serverURL string) {
	// X-Frame-Options: Prevent clickjacking attacks
	w.Header().Set("X-Frame-Options", "DENY")

	// X-Content-Type-Options: Prevent MIME type sniffing
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// X-XSS-Protection: Enable browser XSS protection (legacy browsers)
	w.Header().Set("X-XSS-Protection", "1; mode=block")

	// Referrer-Policy: Don't leak codes or tokens through the referrer
	w.Header().Set("Referrer-Policy", "no-referrer")

	// Strict-Transport-Security: Enforce HTTPS (only if server uses HTTPS)
	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Cache-Control: Prevent caching of sensitive protocol responses
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
