// Package stream turns the chunked HTTP response body of a streaming
// send-message call into typed events.
//
// The server replies with newline-delimited records. Each record line starts
// with the "data: " prefix followed by a JSON payload carrying a "type"
// discriminator. Chunks arrive with arbitrary fragmentation: a record may span
// many chunks and a chunk may carry many records.
//
// The pipeline has three stages, each independent of chat semantics:
//
//   - [Decoder] reassembles byte chunks into complete lines.
//   - [ParseRecord] maps one line to an [Event] tagged union. Anything that is
//     not a well-formed record (keep-alive comments, blank lines, corrupt JSON,
//     unknown types) becomes [KindMalformed] rather than an error, so a single
//     bad record can never abort a healthy stream.
//   - [Dispatcher] routes one event to exactly one caller-supplied callback.
package stream
