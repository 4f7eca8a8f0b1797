//go:build !windows

package restart

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalName is reported in schedule results so callers know what fired.
const SignalName = "SIGUSR1"

func selfSignal() error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGUSR1)
}

// Notify delivers on ch each time the restart signal arrives, whether
// from the scheduler or an external supervisor. The subscription ends
// when ctx is cancelled.
func Notify(ctx context.Context, ch chan<- struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
