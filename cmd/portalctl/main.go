// Command portalctl reads and writes portal entities from the command line
// through the cached data access layer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-resource-query/resource"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		msg := err.Error()
		if ge := resource.AsError(err); ge != nil && ge.Message != "" {
			msg = ge.Message
		}
		fmt.Fprintln(os.Stderr, "error:", msg)
		stop()
		os.Exit(1)
	}
}
