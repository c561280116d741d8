// Package httpsession frames HTTP/1.0 and HTTP/1.1 requests out of
// connection plaintext.
//
// Parser is an incremental, event-driven request parser. It never buffers:
// it consumes complete lines and body bytes from what it is given and leaves
// the rest for the caller to offer again, which is exactly the contract of a
// stream.Stage. Content-Length and chunked bodies are supported, chunk
// extensions are skipped and trailers are reported like headers.
//
// Layer keeps one parser and one Request per connection and routes each
// request as soon as its last byte arrives. Pipelined requests in a single
// feed are routed one by one, in order; if routing one of them disconnects
// the connection, the remainder is left alone.
//
// Input that cannot be framed produces a *ParseError of kind Malformed,
// TooLarge or Unsupported. The configured ParseErrorHandler may answer it
// before the layer resets the parser, drops the pending input and, unless
// the handler says otherwise, disconnects.
package httpsession
