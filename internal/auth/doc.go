// Package auth provides operator authentication and authorisation for the
// door-lock gateway.
//
// It implements a 3-tier role model (user → operator → admin) with:
//   - Argon2id hashing for operator passwords and device connection tokens
//   - Short-lived HS256 JWT access tokens
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Users are lock owners and are scoped to the locks they own: they can read
// and command their own devices and nothing else. Operators and admins see
// every lock.
package auth
