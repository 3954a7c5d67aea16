package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM. After
// the first signal the default behaviour is restored, so a second signal
// terminates the process. stop releases the handler.
func SetupSignalHandler() (ctx context.Context, stop context.CancelFunc) {
	return signalContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func signalContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sigs...)

	go func() {
		select {
		case <-sigChan:
			signal.Stop(sigChan)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
		}
	}()

	return ctx, cancel
}
