// Package dispatch routes complete HTTP requests to verb handlers.
//
// The dispatch set is fixed: GET, PUT, POST, COPY and DELETE. A request
// with any other method was still framed correctly; Dispatch reports
// ErrNoHandler and the connection carries on with its next message.
// Handlers run on the goroutine that fed the bytes, after every pipeline
// lock has been released, and may Send on any connection or broadcast.
//
//	d := dispatch.New(dispatch.Config{Sender: reg})
//	d.HandleFunc("GET", func(ctx context.Context, id stream.ID, req *httpsession.Request) error {
//	    return dispatch.Reply(d, id, 200, []byte("hello"))
//	})
//
// Every dispatch is traced as an http.dispatch span, counted, and recorded
// in the journal when one is configured. The Dispatcher also answers parse
// errors for the HTTP layer through its ParseErrorPolicy.
package dispatch
