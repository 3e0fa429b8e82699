package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchInterrupt returns a context cancelled on SIGINT or SIGTERM. If the process is still alive
// forceShutdownDelay after the signal, it exits.
func WatchInterrupt(ctx context.Context, forceShutdownDelay time.Duration) context.Context {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer signal.Stop(sigs)

		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			log.WithField("signal", sig.String()).Warnf("interrupt received, shutting down gracefully or exit in %s", forceShutdownDelay)
			cancel()
		}

		<-time.After(forceShutdownDelay)
		log.Warnf("still running %s after interrupt, exit immediately", forceShutdownDelay)
		os.Exit(1)
	}()

	return ctx
}
