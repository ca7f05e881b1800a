// Command workgraph inspects and administers workgraph threads stored in a
// checkpoint backend, and drives the reference demo graphs.
//
// Usage:
//
//	workgraph --config workgraph.yaml demo start --query "I want a refund"
//	workgraph --config workgraph.yaml pending <thread-id>
//	workgraph --config workgraph.yaml demo resume <thread-id> --value '{"approved": true}'
//	workgraph --config workgraph.yaml history <thread-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
