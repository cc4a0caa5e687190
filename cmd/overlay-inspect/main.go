// Command overlay-inspect runs a read-only HTTP/GraphQL/WebSocket
// front end over an empty transactional overlay, for exploring the
// API surface with curl, GraphiQL-style clients, or a WebSocket
// watcher. A real caller embeds pkg/overlayserver directly against its
// own live Changeset instead of starting from an empty one.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mnohosten/stateoverlay/pkg/overlay"
	"github.com/mnohosten/stateoverlay/pkg/overlayserver"
)

func main() {
	host := flag.String("host", "localhost", "Server host address")
	port := flag.Int("port", 8089, "Server port")
	corsOrigin := flag.String("cors-origin", "*", "CORS allowed origin")
	enableGraphQL := flag.Bool("graphql", true, "Enable GraphQL API endpoint (/graphql)")
	flag.Parse()

	config := overlayserver.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.AllowedOrigins = []string{*corsOrigin}
	config.EnableGraphQL = *enableGraphQL

	cs := overlay.New()

	srv, err := overlayserver.New(config, cs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("overlay-inspect listening on %s:%d\n", *host, *port)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
