package httpsession

import (
	"bytes"
	"strconv"
	"strings"
)

// Listener receives parse events in order: MessageBegin, URL, then
// HeaderField/HeaderValue pairs, HeadersComplete, any number of Body
// chunks, MessageComplete. A HeaderValue always belongs to the most
// recent HeaderField; a folded continuation line arrives as a further
// HeaderValue for the same field. Chunked trailers are reported as header
// pairs after the body.
type Listener interface {
	OnMessageBegin()
	OnURL(url string)
	OnHeaderField(field string)
	OnHeaderValue(value string)
	OnHeadersComplete(head Head)
	OnBody(chunk []byte)
	OnMessageComplete()
}

// Head summarises the header section once it is complete.
type Head struct {
	Method        string
	Proto         string
	ContentLength int64
	Chunked       bool
}

// Limits bounds what one message may use. Zero or negative disables a
// bound.
type Limits struct {
	// MaxHeaderBytes bounds the request line plus header section, and the
	// trailer section separately.
	MaxHeaderBytes int

	// MaxBodyBytes bounds the decoded body.
	MaxBodyBytes int64
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkEnd
	stateTrailers
	stateFailed
)

// maxChunkLine bounds a chunk-size line including extensions.
const maxChunkLine = 4 << 10

// Parser frames HTTP/1.0 and HTTP/1.1 requests incrementally. Parse only
// consumes complete lines and body bytes; a partial line stays with the
// caller until more input arrives.
type Parser struct {
	limits   Limits
	listener Listener

	state       parseState
	err         *ParseError
	head        Head
	headerBytes int
	bodyBytes   int64
	remaining   int64
	inHeader    bool
	sawLength   bool
	sawEncoding bool
}

// NewParser returns a parser that reports to l.
func NewParser(l Listener, limits Limits) *Parser {
	return &Parser{listener: l, limits: limits}
}

// Reset discards any partial message and a sticky error.
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.err = nil
	p.resetMessage()
}

func (p *Parser) resetMessage() {
	p.head = Head{ContentLength: -1}
	p.headerBytes = 0
	p.bodyBytes = 0
	p.remaining = 0
	p.inHeader = false
	p.sawLength = false
	p.sawEncoding = false
}

// InMessage reports whether a message has begun but not completed.
func (p *Parser) InMessage() bool {
	return p.state != stateRequestLine && p.state != stateFailed
}

// Parse consumes from data and returns how many leading bytes it used. It
// stops after a complete message so the caller can decide whether to carry
// on with pipelined input; a return of 0 with no error means more input is
// needed.
func (p *Parser) Parse(data []byte) (int, error) {
	if p.state == stateFailed {
		return 0, p.err
	}

	off := 0
	for off < len(data) {
		n, done, err := p.step(data[off:])
		off += n
		if err != nil {
			p.state = stateFailed
			p.err = err
			return off, err
		}
		if done {
			return off, nil
		}
		if n == 0 {
			break
		}
	}
	return off, nil
}

// step advances one syntactic unit. done reports a completed message.
func (p *Parser) step(data []byte) (n int, done bool, err *ParseError) {
	switch p.state {
	case stateRequestLine:
		return p.requestLine(data)
	case stateHeaders, stateTrailers:
		return p.headerLine(data)
	case stateBody:
		n := p.bodyChunk(data)
		if p.remaining == 0 {
			return n, p.complete(), nil
		}
		return n, false, nil
	case stateChunkSize:
		return p.chunkSize(data)
	case stateChunkData:
		n := p.bodyChunk(data)
		if p.remaining == 0 {
			p.state = stateChunkEnd
		}
		return n, false, nil
	case stateChunkEnd:
		switch {
		case len(data) >= 2 && data[0] == '\r' && data[1] == '\n':
			p.state = stateChunkSize
			return 2, false, nil
		case data[0] == '\n':
			p.state = stateChunkSize
			return 1, false, nil
		case len(data) == 1 && data[0] == '\r':
			return 0, false, nil
		default:
			return 0, false, malformed("missing CRLF after chunk data")
		}
	}
	return 0, false, nil
}

// line returns the next line without its terminator, and the bytes it
// spans including the terminator. ok is false when no newline has arrived.
func line(data []byte) (text []byte, span int, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, 0, false
	}
	text = data[:i]
	if len(text) > 0 && text[len(text)-1] == '\r' {
		text = text[:len(text)-1]
	}
	return text, i + 1, true
}

func (p *Parser) overHeaderLimit(extra int) bool {
	return p.limits.MaxHeaderBytes > 0 && p.headerBytes+extra > p.limits.MaxHeaderBytes
}

func (p *Parser) requestLine(data []byte) (int, bool, *ParseError) {
	text, span, ok := line(data)
	if !ok {
		if p.overHeaderLimit(len(data)) {
			return 0, false, tooLarge("request line exceeds %d bytes", p.limits.MaxHeaderBytes)
		}
		return 0, false, nil
	}
	// Empty lines ahead of a request line are ignored.
	if len(text) == 0 {
		return span, false, nil
	}

	p.resetMessage()
	if p.overHeaderLimit(span) {
		return 0, false, tooLarge("request line exceeds %d bytes", p.limits.MaxHeaderBytes)
	}
	p.headerBytes = span

	method, rest, ok := strings.Cut(string(text), " ")
	if !ok || !isToken(method) {
		return 0, false, malformed("invalid request line")
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || target == "" || strings.ContainsAny(target, " \t") || !isVisible(target) {
		return 0, false, malformed("invalid request target")
	}
	switch proto {
	case "HTTP/1.1", "HTTP/1.0":
	default:
		if strings.HasPrefix(proto, "HTTP/") && len(proto) == len("HTTP/x.y") {
			return 0, false, unsupported("protocol %q", proto)
		}
		return 0, false, malformed("invalid protocol %q", proto)
	}

	p.head.Method = method
	p.head.Proto = proto
	p.state = stateHeaders
	p.listener.OnMessageBegin()
	p.listener.OnURL(target)
	return span, false, nil
}

func (p *Parser) headerLine(data []byte) (int, bool, *ParseError) {
	trailers := p.state == stateTrailers
	text, span, ok := line(data)
	if !ok {
		if p.overHeaderLimit(len(data)) {
			return 0, false, tooLarge("header section exceeds %d bytes", p.limits.MaxHeaderBytes)
		}
		return 0, false, nil
	}
	if p.overHeaderLimit(span) {
		return 0, false, tooLarge("header section exceeds %d bytes", p.limits.MaxHeaderBytes)
	}
	p.headerBytes += span

	if len(text) == 0 {
		if trailers {
			return span, p.complete(), nil
		}
		done, err := p.headersComplete()
		return span, done, err
	}

	// obs-fold: a continuation of the previous value.
	if text[0] == ' ' || text[0] == '\t' {
		if !p.inHeader {
			return 0, false, malformed("continuation line without a header")
		}
		p.listener.OnHeaderValue(" " + strings.TrimSpace(string(text)))
		return span, false, nil
	}

	field, value, ok := strings.Cut(string(text), ":")
	if !ok || !isToken(field) {
		return 0, false, malformed("invalid header line")
	}
	value = strings.Trim(value, " \t")
	if !trailers {
		if err := p.noteFraming(field, value); err != nil {
			return 0, false, err
		}
	}

	p.inHeader = true
	p.listener.OnHeaderField(field)
	p.listener.OnHeaderValue(value)
	return span, false, nil
}

// noteFraming records Content-Length and Transfer-Encoding.
func (p *Parser) noteFraming(field, value string) *ParseError {
	switch {
	case strings.EqualFold(field, "Content-Length"):
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 || value == "" || value[0] == '+' {
			return malformed("invalid Content-Length %q", value)
		}
		if p.sawLength && n != p.head.ContentLength {
			return malformed("conflicting Content-Length values")
		}
		p.sawLength = true
		p.head.ContentLength = n

	case strings.EqualFold(field, "Transfer-Encoding"):
		if p.head.Proto == "HTTP/1.0" {
			return unsupported("Transfer-Encoding in HTTP/1.0 request")
		}
		codings := strings.Split(value, ",")
		last := strings.TrimSpace(codings[len(codings)-1])
		if !strings.EqualFold(last, "chunked") {
			return unsupported("transfer coding %q", last)
		}
		for _, c := range codings[:len(codings)-1] {
			if strings.EqualFold(strings.TrimSpace(c), "chunked") {
				return malformed("chunked applied more than once")
			}
		}
		if p.sawEncoding {
			return malformed("chunked applied more than once")
		}
		p.sawEncoding = true
		p.head.Chunked = true
	}
	return nil
}

func (p *Parser) headersComplete() (bool, *ParseError) {
	if p.sawLength && p.sawEncoding {
		return false, malformed("both Content-Length and chunked Transfer-Encoding")
	}
	if p.head.Chunked {
		p.head.ContentLength = -1
	}
	if limit := p.limits.MaxBodyBytes; limit > 0 && p.head.ContentLength > limit {
		return false, tooLarge("body of %d bytes exceeds %d", p.head.ContentLength, limit)
	}

	p.inHeader = false
	p.listener.OnHeadersComplete(p.head)

	switch {
	case p.head.Chunked:
		p.state = stateChunkSize
	case p.head.ContentLength > 0:
		p.remaining = p.head.ContentLength
		p.state = stateBody
	default:
		return p.complete(), nil
	}
	return false, nil
}

func (p *Parser) bodyChunk(data []byte) int {
	n := int64(len(data))
	if n > p.remaining {
		n = p.remaining
	}
	if n == 0 {
		return 0
	}
	p.remaining -= n
	p.bodyBytes += n
	p.listener.OnBody(data[:n])
	return int(n)
}

func (p *Parser) chunkSize(data []byte) (int, bool, *ParseError) {
	text, span, ok := line(data)
	if !ok {
		if len(data) > maxChunkLine {
			return 0, false, malformed("chunk size line too long")
		}
		return 0, false, nil
	}

	// Chunk extensions are ignored.
	sizeText, _, _ := strings.Cut(string(text), ";")
	sizeText = strings.TrimRight(sizeText, " \t")
	if sizeText == "" || len(sizeText) > 16 {
		return 0, false, malformed("invalid chunk size %q", sizeText)
	}
	size, err := strconv.ParseUint(sizeText, 16, 63)
	if err != nil {
		return 0, false, malformed("invalid chunk size %q", sizeText)
	}

	if size == 0 {
		p.state = stateTrailers
		p.headerBytes = 0
		return span, false, nil
	}
	if limit := p.limits.MaxBodyBytes; limit > 0 && int64(size) > limit-p.bodyBytes {
		return 0, false, tooLarge("chunked body exceeds %d bytes", limit)
	}
	p.remaining = int64(size)
	p.state = stateChunkData
	return span, false, nil
}

func (p *Parser) complete() bool {
	p.state = stateRequestLine
	p.listener.OnMessageComplete()
	p.resetMessage()
	return true
}

// tchar per RFC 9110 section 5.6.2.
var tchar = func() (t [256]bool) {
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
		t[c-'a'+'A'] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !tchar[s[i]] {
			return false
		}
	}
	return true
}

func isVisible(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return false
		}
	}
	return true
}
