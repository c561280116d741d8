// Package server exposes the session pipeline to network drivers.
//
// A driver owns the sockets and calls into a Server; the server never
// performs I/O of its own. Capabilities tells the driver which call
// pattern to use: a StreamServer is driven per connection with
// OnConnect, OnInboundBytes, OnOutboundPoll, OnDisconnect and Retire, a
// PacketServer with OnPacketWrite and OnPacketRead.
//
// # Host
//
// Host assembles a stream pipeline from configuration:
//
//	registry -> [tls layer] -> http layer -> dispatcher
//
// The TLS layer is present when tls.enabled is set and an identity can be
// produced; a missing identity is logged and the host serves plaintext
// without the CapTLS flag. With http.enabled false a caller-supplied
// stream.Stage takes the place of the HTTP layer.
//
//	cfg := config.GetConfig()
//	host, err := server.NewHost(server.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	_ = host.Handle("GET", dispatch.HandlerFunc(func(ctx context.Context, id stream.ID, req *httpsession.Request) error {
//	    return dispatch.Reply(host, id, 200, []byte("hello"))
//	}))
//
//	// driver side
//	_ = host.OnConnect(id, 443)
//	host.OnInboundBytes(id, received)
//	n := host.OnOutboundPoll(id, buf)
//
// Every driver call runs the pipeline synchronously on the calling
// goroutine.
//
// # Background jobs
//
// Start runs optional cron jobs outside the data path: a stall sweep that
// disconnects connections parked on partial input (http.stall_timeout),
// a daily certificate expiry check, journal retention and, in file mode
// with tls.watch, an fsnotify watcher that swaps the identity for new
// sessions. Stop ends them and closes the journal.
//
// # Factory
//
// A Factory maps the hostname a driver resolved to a Server. StaticFactory
// is an exact-name table; anything else returns ErrNoHandler.
package server
