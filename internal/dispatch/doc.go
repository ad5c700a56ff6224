// Package dispatch drives a notification through its delivery route one
// step at a time: admission against the event's rate limit, rendering, a
// send on the current channel, recording the attempt and asking the router
// what comes next.
//
// Channel providers sit behind the Sender interface:
//   - email: AWS SES (ses.go)
//   - push and in-app: SQS queues consumed by the mobile gateway (queue.go)
//   - sms: an HTTP JSON gateway reached through httpretry (sms.go)
//
// Terminal drops are handed to every configured DropSink.
package dispatch
