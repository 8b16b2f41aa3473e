// Command medplain runs the clinician-facing document service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/medplain/medplain/internal/runtime"
)

func main() {
	app, err := runtime.NewApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "medplain: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "medplain: %v\n", err)
		os.Exit(1)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "medplain: shutdown: %v\n", err)
		os.Exit(1)
	}
}
