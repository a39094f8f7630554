package session

import "errors"

// Sentinel errors for session operations. Check with errors.Is:
//
//	if _, err := ctrl.Send(ctx, req); errors.Is(err, session.ErrSendInProgress) {
//	    // a stream is already running for this conversation
//	}
var (
	// ErrEmptyMessage indicates a send with no content and no attachments.
	ErrEmptyMessage = errors.New("message has no content and no attachments")

	// ErrSendInProgress indicates a send attempt is already active for the
	// conversation. At most one stream may run per conversation; a second
	// submit is rejected, never interleaved.
	ErrSendInProgress = errors.New("send already in progress for conversation")

	// ErrExchangeInFlight indicates the store already holds an in-flight
	// exchange for the conversation.
	ErrExchangeInFlight = errors.New("in-flight exchange already exists for conversation")

	// ErrStreamFailed indicates the server reported a mid-stream failure via
	// an explicit error event.
	ErrStreamFailed = errors.New("stream failed")

	// ErrStreamTruncated indicates the transport closed before a terminal
	// done or error event arrived.
	ErrStreamTruncated = errors.New("stream ended without terminal event")

	// ErrStreamCanceled indicates the send attempt was canceled by the user.
	ErrStreamCanceled = errors.New("stream canceled")
)
