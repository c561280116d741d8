package dispatch

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/stream"
)

// Response is a minimal HTTP/1.1 response for handlers to send back on a
// connection.
type Response struct {
	Status  int
	Headers []httpsession.Header
	Body    []byte
}

// Bytes serializes the response. A Content-Length header is added unless one
// is already present.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	text := http.StatusText(r.Status)
	if text == "" {
		text = "Status " + strconv.Itoa(r.Status)
	}
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(r.Status))
	buf.WriteByte(' ')
	buf.WriteString(text)
	buf.WriteString("\r\n")

	hasLength := false
	for _, h := range r.Headers {
		if strings.EqualFold(h.Field, "Content-Length") {
			hasLength = true
		}
		buf.WriteString(h.Field)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	if !hasLength {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(r.Body)))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

// Reply sends a response on id through s.
func Reply(s stream.Sender, id stream.ID, status int, body []byte, headers ...httpsession.Header) error {
	r := Response{Status: status, Headers: headers, Body: body}
	return s.Send(id, r.Bytes())
}
