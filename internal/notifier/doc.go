// Package notifier delivers guardian messages.
//
// A Notifier takes a recipient handle and a message body and reports one of
// three outcomes:
//   - sent: the transport accepted the message
//   - skipped: nothing was attempted (transport unconfigured or no handle)
//   - error: the attempt was made and failed
//
// # Transport
//
// Telegram is the only shipped transport. The bot is built offline, so
// constructing it never touches the network; every send is bounded by a
// timeout and passes through a shared rate limiter.
//
// Send never returns a Go error. Callers record the Result as-is.
package notifier
