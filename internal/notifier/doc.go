// Package notifier delivers chat messages asynchronously.
//
// Notifications are queued and sent by a small worker pool with a shared
// rate limit, retried with jittered exponential backoff, and suppressed when
// an identical message to the same chat was sent within the dedup window.
// Dedup stamps can be persisted so a restart does not repeat messages.
//
// Monitors do not address chats directly: SubjectNotifier resolves a subject
// key to its chat through the subject directory.
package notifier
