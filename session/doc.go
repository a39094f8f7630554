// Package session owns the client-side state of agent conversations.
//
// A conversation holds ordered persisted messages plus at most one in-flight
// exchange: the optimistic user message and the agent reply currently being
// streamed. The [Store] folds stream events into that exchange and exposes a
// rendered message list that is safe to read at any time, including
// mid-stream. The [Controller] drives one send attempt through its state
// machine (idle, sending, streaming, reconciling, back to idle, with errored
// reachable from sending and streaming) and reconciles local state with the
// server's canonical record once the stream terminates.
//
// # Concurrency
//
// Store and Notifier are safe for concurrent use; every accessor returns
// defensive copies. At most one send attempt may be active per conversation:
// the Controller reserves the conversation before any network work and rejects
// a second send with [ErrSendInProgress]. Streams for different conversations
// run independently.
//
// # Local State
//
// [SaveCurrentConversationID] and [LoadCurrentConversationID] persist the last
// selected conversation to <state dir>/current_conversation using atomic
// writes (temp file + rename) with file locking via [github.com/gofrs/flock].
package session
