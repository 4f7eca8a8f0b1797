//go:build windows

package restart

import "context"

// SignalName documents the cooperative mechanism used where SIGUSR1
// does not exist.
const SignalName = "RESTART_EVENT"

// restartEvents carries cooperative restart requests in-process.
var restartEvents = make(chan struct{}, 1)

func selfSignal() error {
	select {
	case restartEvents <- struct{}{}:
	default:
	}
	return nil
}

// Notify delivers on ch each time a cooperative restart is requested.
func Notify(ctx context.Context, ch chan<- struct{}) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-restartEvents:
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
