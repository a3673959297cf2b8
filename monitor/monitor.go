package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abia-desktop/abia/llm"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	notificationTitle = "ABIA"
	probeTimeout      = 30 * time.Second
)

// Monitor periodically probes the LLM endpoint and notifies the user when
// reachability changes.
type Monitor struct {
	checker  llm.ConnectionChecker
	schedule cron.Schedule
	notifier Notifier
	logger   zerolog.Logger

	mu     sync.Mutex
	probed bool
	lastOK bool
}

// New creates a monitor. schedule accepts anything ParseSchedule does.
func New(checker llm.ConnectionChecker, schedule string, notifier Notifier, logger zerolog.Logger) (*Monitor, error) {
	if checker == nil {
		return nil, fmt.Errorf("checker cannot be nil")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", schedule, err)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Monitor{
		checker:  checker,
		schedule: sched,
		notifier: notifier,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}, nil
}

// Run probes once immediately and then on every schedule tick until ctx is
// done. Ticks that fire while a probe is still running are skipped.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().Msg("Starting connection monitor")
	m.Probe(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(m.schedule, cron.FuncJob(func() { m.Probe(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	m.logger.Info().Msg("Connection monitor stopped: context cancelled")
}

// Probe runs a single connection check and reports whether it succeeded.
// The first probe notifies only on failure; later probes notify whenever the
// outcome differs from the previous one.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ok := m.checker.CheckConnection(probeCtx)
	if ctx.Err() != nil {
		return ok
	}

	m.mu.Lock()
	first := !m.probed
	changed := (first && !ok) || (!first && ok != m.lastOK)
	m.probed = true
	m.lastOK = ok
	m.mu.Unlock()

	status := m.checker.ConnectionStatus()
	m.logger.Debug().Bool("ok", ok).Str("state", string(status.State)).Msg("Connection probe finished")
	if changed {
		m.notify(ok, status)
	}
	return ok
}

func (m *Monitor) notify(ok bool, status llm.ConnectionStatus) {
	message := "Connection to the DeepSeek API restored."
	if !ok {
		message = "Cannot reach the DeepSeek API."
		if status.LastError != nil && status.LastError.Message != "" {
			message += " " + status.LastError.Message
		}
	}

	if err := m.notifier.Notify(notificationTitle, message); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to send desktop notification")
		return
	}
	m.logger.Info().Bool("ok", ok).Msg("Connection change notification sent")
}
