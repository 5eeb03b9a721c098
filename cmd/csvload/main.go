// Command csvload loads a cleaned and enriched CSV file into a warehouse
// table. See "csvload --help".
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"csvload/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
