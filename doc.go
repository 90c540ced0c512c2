// Package botprompts is the domain core of the bot prompts
// administration backend: account management, token issuance, scope
// gating, system variables and versioned prompt texts.
//
// Accounts and tokens:
//   - Manager orchestrates registration, login, email verification and
//     password reset over the bun-backed repositories. Pre-flight
//     checks report every problem at once so a signup form can render
//     the full list.
//   - TokenIssuer signs short-lived access JWTs and rotates persisted
//     refresh tokens. Verification and reset tokens are opaque
//     single-use rows, never JWTs.
//
// Authorization:
//   - Gate resolves a bearer token into an Identity whose satisfied
//     scope set is the token's scope claim joined with the permission
//     names granted through roles. Anonymous callers are resolved
//     against the configured guest role. A route passes when any one
//     of its required scopes is satisfied; superusers bypass the check.
//
// Prompts:
//   - PromptsService keeps exactly one current revision per prompt,
//     appends a revision on every edit, and records prompt reads into
//     an append-only history from a background writer.
package botprompts
