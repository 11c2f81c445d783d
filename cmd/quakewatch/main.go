package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/galadrimteam/quakewatch/internal/agent"
	"github.com/galadrimteam/quakewatch/internal/config"
	"github.com/galadrimteam/quakewatch/internal/quake"
)

func main() {
	if !run() {
		os.Exit(1)
	}
}

func run() bool {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.BuildLogger(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := agent.New(agent.Config{
		URL:         cfg.URL,
		MaxAttempts: cfg.MaxAttempts,
		Heartbeat:   cfg.Heartbeat,
	}, agent.WSDialer{Token: cfg.Token}, agent.SystemClock(), logger)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		a.Run(runCtx)
		close(done)
	}()

	ok := watch(ctx, a, logger)
	cancel()
	<-done
	return ok
}

// watch prints every status or data change until ctx is done. It reports
// false if the agent gave up reconnecting.
func watch(ctx context.Context, a *agent.Agent, logger *slog.Logger) bool {
	var (
		last     agent.Status
		lastData *quake.Collection
	)
	for {
		select {
		case <-ctx.Done():
			return true
		case <-a.Changes():
		}

		st := a.Status()
		if st != last {
			logger.Info("channel status", "state", st.State, "attempt", st.Attempt, "error", st.Error)
			last = st
		}
		if data := a.Data(); data != nil && data != lastData {
			printCollection(data)
			lastData = data
		}
		if st.State == agent.StateDisconnected && st.Error != "" {
			logger.Error("giving up", "error", st.Error)
			return false
		}
	}
}

func printCollection(c *quake.Collection) {
	fmt.Printf("%d earthquakes (%s)\n", len(c.Features), c.Metadata.Title)
	for _, eq := range c.Features {
		fmt.Printf("  M%-4.1f %-24s %s\n", eq.Magnitude, eq.Time, eq.Place)
	}
}
