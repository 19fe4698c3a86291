// Package community is the client core of an event community platform:
// session lifecycle, email verification and event registration on top of the
// platform JSON API.
//
// Sessions:
//   - CredentialStore is the only owner of the bearer token and the user
//     snapshot. Both are persisted through a CredentialBackend (see the
//     storage packages) and are always written and cleared together.
//   - SessionManager moves between Anonymous, PendingVerification and
//     Authenticated. Register never yields a token; Verify with the emailed
//     code does. The verification Countdown blocks Verify once it reaches zero
//     and blocks Resend while it is running.
//   - HTTPGateway clears the store once for every authenticated request the
//     server rejects with 401. SessionManager.State picks the change up.
//
// Events:
//   - EventCatalog reads events with a TTL cache and may fall back to stale
//     or demo data. RegistrationCoordinator owns the write path and refuses
//     registrations that are full, closed, duplicated or already in flight.
//     Custom registration fields are validated by a RegistrationSchema.
//
// Errors:
//   - Every error carries an ErrorKind (the go-errors TextCode). Switch on
//     KindOf or the IsX helpers, never on message text.
//
// Activity sinks:
//   - ActivitySink receives login, verification, logout and registration
//     events. Sinks run best-effort (errors are logged).
package community
