// Package accounts implements the account identity lifecycle for the shop
// backend: registration, one-time-code activation, login with JWT token
// pairs, and password reset.
//
// Lifecycle:
//   - Accounts carry a Status persisted via Bun. Registration creates a
//     pending account with a generated activation code; consuming the code
//     moves it to active. AccountStateMachine centralizes the transition
//     graph and emits ActivityEvents.
//   - The activation code is a single shared slot: requesting a password
//     reset regenerates it, and either consuming flow clears it, so a code
//     can never be replayed.
//
// Notifications:
//   - Outbound email intents are written to a notifications outbox row in
//     the same transaction as the account mutation. The notify package
//     drains the outbox with a worker pool, retrying transient transport
//     failures with bounded exponential backoff. Delivery failures are
//     recorded on the row, never surfaced to the request that enqueued them.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     command handlers, and the state machine. Sinks run best-effort so you
//     can forward to a database or queue without blocking authentication.
package accounts
