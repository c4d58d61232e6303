// Package auth authenticates chathub API and websocket requests.
//
// # Tokens
//
// Clients present an HS256 JWT whose "sub" claim is their username. Tokens
// are signed with the configured auth.jwt_secret, which must be at least
// MinSecretLength bytes, and must carry an "exp" claim:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("lisa", 24*time.Hour)
//	username, err := verifier.Verify(token)
//
// # HTTP
//
// HTTPAuthMiddleware reads the token from the Authorization header or, for
// websocket upgrades from browsers, the access_token query parameter. The
// subject must name an existing user. Handlers read the caller with
// FromContext.
package auth
