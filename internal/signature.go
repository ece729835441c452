package internal

import (
	gh "github.com/google/go-github/v57/github"
)

// SignatureHeader is the request header carrying the HMAC digest of the
// raw body, prefixed with the hash scheme (for example "sha256=...").
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature reports whether signature is a valid HMAC-SHA256 digest
// of body under secret. The digest is computed over the raw request bytes,
// never the decoded payload. An absent or malformed signature is a plain
// verification failure, not an error. Comparison is constant-time.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return gh.ValidateSignature(signature, body, []byte(secret)) == nil
}
