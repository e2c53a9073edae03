// Package auth provides authentication and authorisation for Verdant Core.
//
// Two identity domains exist: kits (devices, authenticated by serial +
// secret) and people (user accounts, authenticated by username + password).
// Both receive HS256 JWTs whose subject resolves to exactly one domain.
//
// The package implements:
//   - Argon2id password and kit-secret hashing (OWASP 2025 recommendation)
//   - JWT issue/verify for kit and user tokens
//   - A Resolver that turns a raw bearer token into a Principal, a closed
//     tagged variant over {Device, Person, Anonymous}
//   - Pure authorisation predicates over (Principal, kit) for the
//     measurement stream: who may subscribe, who may publish
//
// Bad credentials never error: the Resolver degrades to Anonymous and the
// predicates decide what an anonymous principal may see (public dashboards
// only). Only a subject id present in both identity domains is treated as an
// error, since that indicates corrupt configuration rather than a bad caller.
package auth
