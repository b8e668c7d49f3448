// Package auth authenticates operators of the fixie-bridge admin API.
//
// Operators present HS256 JWTs signed with admin.jwt_secret. Tokens are
// minted by `fixie-admin token` and carry the operator name as the subject,
// the fixie-bridge issuer, and a mandatory expiry.
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("ops@example.org", 24*time.Hour)
//
// HTTPAuthMiddleware checks the Authorization: Bearer header and puts the
// subject on the request context for handlers to log.
package auth
