// Callisto is the command-line companion of the session pipeline library.
//
// The pipeline itself is embedded by a network driver; the command works
// with its configuration, identities and journal offline:
//
//	# Check a configuration file, including environment overrides
//	callisto validate --config callisto.yaml
//
//	# Create a self-signed identity for tls.mode: file
//	callisto certs generate --host app.local --output certs/
//
//	# Assemble a host and run its readiness checks
//	callisto check
//
//	# Feed captured requests through a host and print what it sends back
//	callisto replay captures/*.http
//
//	# Show when the configured background jobs will run next
//	callisto schedule --count 3
//
//	# List recorded requests
//	callisto journal list --since 24h
//	callisto journal export --format csv --output journal.csv
package main

func main() {
	Execute()
}
