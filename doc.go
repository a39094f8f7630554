// Package agentstream is a Go client for the agent-chat service: it manages
// conversations, sends messages, and follows the agent's reply as it streams
// in token by token, interleaved with step and tool-use progress.
//
// The [Client] is the entry point. It keeps the authoritative client-side
// view of conversations and messages, applies optimistic updates when a
// message is sent, folds live stream events into an in-flight exchange, and
// reconciles with the server's persisted record once the stream terminates.
//
//	cfg, err := config.Load()
//	if err != nil { ... }
//	client, err := agentstream.New(cfg)
//	if err != nil { ... }
//	defer client.Close()
//
//	unsubscribe := client.Subscribe(convID, func() {
//	    render(client.Rendered(convID))
//	})
//	defer unsubscribe()
//
//	if _, err := client.Send(ctx, "Hello"); err != nil { ... }
//
// Sends are asynchronous past the point where the server accepts the request:
// Send returns once streaming has begun, and progress is observed through
// subscriptions, [Client.Rendered] and [Client.InFlight]. At most one stream
// runs per conversation; streams for different conversations are independent.
package agentstream
