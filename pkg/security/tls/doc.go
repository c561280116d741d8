/*
Package tls produces the server identity used to terminate TLS.

An Identity is a certificate chain with its private key. It is built once,
either generated or loaded, and never mutated afterwards, so any number of
sessions may read it concurrently.

# Generated identities

	id, err := tls.GenerateSelfSigned(tls.GenerateOptions{
		Hostname:     "files.example.test",
		Organization: "Callisto",
	})

The certificate is self-signed, RSA-2048 by default, valid for 365 days,
with subject C=SE, O=<organization>, CN=<hostname> and the hostname as its
only subject alternative name.

# Loaded identities

	id, err := tls.LoadFiles("/etc/callisto/cert.pem", "/etc/callisto/key.pem")

Every failure is an *IdentityError. Callers treat it as "TLS unavailable"
and carry on without the TLS stage.

# Engine settings

EngineConfig turns an identity into a crypto/tls server configuration with
a minimum version, a cipher suite allow-list and ALPN protocols.

# Watching

A Watcher reloads file-based identities when the files change. Sessions
opened after a reload use the new identity; existing sessions keep theirs.
*/
package tls
