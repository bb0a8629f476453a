// Command medgraph loads a medical knowledge graph and answers questions
// over it, from the command line or as an HTTP service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.teardown()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
