// Package tlssession terminates TLS on connections whose bytes are moved by
// an external driver.
//
// A Layer sits between a stream.Registry and an upper stage. Each connection
// gets a Session: a crypto/tls server engine running on its own goroutine
// over an in-memory bridge. Feed pushes ciphertext into the bridge, waits
// until the engine is idle again, copies whatever the engine wrote into the
// connection's outgoing buffer and hands newly decrypted plaintext to the
// upper stage, all on the caller's goroutine. The engine goroutine itself
// never calls into the pipeline.
//
// Sessions move through Handshaking, Established, Reset, Closed and Failed.
// Nothing reaches the upper stage before Established. When the peer sends
// close_notify the session is rebuilt on the same identity and the
// connection stays open; a failed handshake parks the session until the
// next inbound bytes start a new one.
//
//	layer, err := tlssession.NewLayer(tlssession.Config{
//	    Identity:  id,
//	    Engine:    sectls.EngineConfigFromConfig(cfg.TLS),
//	    Transport: reg,
//	})
//	layer.SetUpper(httpLayer)
//	reg.SetStage(layer)
package tlssession
