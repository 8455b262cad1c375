// Package app contains the top-level orchestration for the host process.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/obsolescence/arpanet/internal/config"
	"github.com/obsolescence/arpanet/internal/host"
	"github.com/obsolescence/arpanet/internal/imp"
	"github.com/obsolescence/arpanet/internal/util"
)

// tickInterval is the event loop's wake-up period: one tick of logical time.
const tickInterval = time.Second

// Run binds the IMP link, announces readiness, and drives the single event
// loop until ctx is cancelled. All protocol and console state is owned by
// this goroutine; the link and console readers only forward events into it.
// Failure to acquire the IMP socket is the one fatal error of the process.
func Run(ctx context.Context, cfg config.Config) error {
	link, err := imp.Dial(cfg.LocalPort, cfg.IMPAddr)
	if err != nil {
		return err
	}

	sess := host.New(host.Params{Config: cfg, Wire: link})
	defer sess.Shutdown()

	util.StartStatsReporter(ctx)

	events := link.Start(ctx)
	if err := link.SetHostReady(true); err != nil {
		util.LogWarning("imp: ready announce: %v", err)
	}
	util.LogInfo("host: listening on sockets %d (old dialect) and %d (new dialect)",
		cfg.OldSocket, cfg.NewSocket)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				select {
				case <-ctx.Done():
					return nil
				default:
					return errors.New("imp link closed")
				}
			}
			sess.HandleEvent(ev)

		case cev := <-sess.ConsoleEvents():
			sess.HandleConsole(cev)

		case dev := <-sess.DrainingEvents():
			sess.HandleDraining(dev)

		case <-ticker.C:
			sess.Tick()
		}
	}
}
