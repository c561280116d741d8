package dispatch

import (
	"fmt"
	"log/slog"
	"net/http"

	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/stream"
)

// ParseErrorPolicy decides how a connection with unframeable input is
// answered. s sends on the connection's own path (TLS or plain). Returning
// true disconnects the connection; the queued response stays drainable.
type ParseErrorPolicy func(s stream.Sender, id stream.ID, err *httpsession.ParseError) (disconnect bool)

// StatusFor maps a parse error to the status code RejectParseErrors sends.
func StatusFor(err *httpsession.ParseError) int {
	if err.Kind == httpsession.TooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// RejectParseErrors answers 400 Bad Request, or 413 for oversized input,
// with Connection: close, and disconnects.
func RejectParseErrors(s stream.Sender, id stream.ID, err *httpsession.ParseError) bool {
	status := StatusFor(err)
	if sendErr := Reply(s, id, status, nil, httpsession.Header{Field: "Connection", Value: "close"}); sendErr != nil {
		slog.Default().With("component", "dispatch").Debug("parse error response not sent",
			"connection", id,
			"status", status,
			"error", sendErr,
		)
	}
	return true
}

// DisconnectOnParseError disconnects without answering.
func DisconnectOnParseError(stream.Sender, stream.ID, *httpsession.ParseError) bool {
	return true
}

// PolicyFromConfig resolves http.parse_error_policy.
func PolicyFromConfig(name string) (ParseErrorPolicy, error) {
	switch name {
	case "", "reject":
		return RejectParseErrors, nil
	case "disconnect":
		return DisconnectOnParseError, nil
	default:
		return nil, fmt.Errorf("unknown parse error policy %q", name)
	}
}
