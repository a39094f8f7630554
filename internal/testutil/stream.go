package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
)

// Record builds one wire record line (without trailing newline) for the given
// event type and payload fields.
//
//	testutil.Record(t, "token", map[string]any{"content": "Hi"})
//	// => data: {"content":"Hi","type":"token"}
func Record(t *testing.T, eventType string, fields map[string]any) string {
	t.Helper()

	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = eventType

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal record payload: %v", err)
	}
	return "data: " + string(raw)
}

// Stream joins record lines into a newline-terminated stream body.
func Stream(lines ...string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// ScriptedBody is an io.ReadCloser that serves a fixed script of chunks, one
// chunk per Read call. With Hold set, it blocks after the script until Close
// or Release, which lets tests cancel a stream while the transport is still
// "open". Safe for the single-reader, concurrent-closer pattern the stream
// pump uses.
type ScriptedBody struct {
	mu      sync.Mutex
	chunks  [][]byte
	release chan struct{}
	once    sync.Once

	// Hold keeps Read blocking after the last chunk instead of returning
	// io.EOF, until Close or Release is called.
	Hold bool
}

// NewScriptedBody creates a body serving the given chunks in order.
func NewScriptedBody(hold bool, chunks ...string) *ScriptedBody {
	b := &ScriptedBody{Hold: hold, release: make(chan struct{})}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

// Read serves the next scripted chunk. p must be large enough for one chunk;
// tests script chunks well below the pump's buffer size.
func (b *ScriptedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.chunks) > 0 {
		chunk := b.chunks[0]
		b.chunks = b.chunks[1:]
		b.mu.Unlock()
		if len(chunk) > len(p) {
			return 0, fmt.Errorf("scripted chunk of %d bytes exceeds read buffer %d", len(chunk), len(p))
		}
		return copy(p, chunk), nil
	}
	hold := b.Hold
	b.mu.Unlock()

	if hold {
		<-b.release
	}
	return 0, io.EOF
}

// Release unblocks a held Read without closing.
func (b *ScriptedBody) Release() {
	b.once.Do(func() { close(b.release) })
}

// Close releases any blocked Read and marks the body closed.
func (b *ScriptedBody) Close() error {
	b.Release()
	return nil
}
