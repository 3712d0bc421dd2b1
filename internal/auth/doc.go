// Package auth issues and validates the bearer tokens that protect the
// switchboard HTTP API.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles:
// viewer (read status, subscribe to events), operator (also start bridges
// and send commands) and admin. The role-permission map is static; there is
// no user database.
package auth
