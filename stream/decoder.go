package stream

import (
	"bytes"
	"strings"
)

// Decoder reassembles arbitrarily fragmented byte chunks into complete lines.
//
// Feed appends each incoming chunk to a rolling buffer and returns every
// newline-terminated line accumulated so far; the trailing partial line stays
// buffered until a later chunk completes it. No line is ever split across two
// Feed results and no result element contains more than one line.
//
// The zero value is ready to use. Decoder is not safe for concurrent use; a
// stream has exactly one reader.
type Decoder struct {
	buf []byte
}

// Feed consumes one chunk and returns the complete lines it unlocked, in
// order. Line terminators are stripped; a "\r\n" ending is treated like "\n".
// Feed returns nil when the chunk completes no line.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(d.buf[:i]), "\r")
		lines = append(lines, line)
		d.buf = d.buf[i+1:]
	}

	// Reclaim the backing array once everything buffered has been emitted,
	// so a long stream does not pin its largest-ever chunk.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines
}

// Rest returns the buffered partial line. A well-formed stream terminates on a
// line boundary, so at transport end a non-empty rest is discarded by the
// caller; it is exposed for diagnostics only.
func (d *Decoder) Rest() string {
	return string(d.buf)
}
