package main

import (
	"time"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/durabletask"
	"github.com/AlexGrek/offloadmq/pkg/log"
	"github.com/AlexGrek/offloadmq/pkg/metrics"
	"github.com/AlexGrek/offloadmq/pkg/urgenttask"
)

// archivalInterval is the cadence of the durable archival sweep; spec
// requires it run no less often than hourly.
const archivalInterval = 30 * time.Minute

// livenessLogInterval is the cadence of the non-critical agent-liveness log.
const livenessLogInterval = 120 * time.Second

// startBackgroundWorkers launches the urgent TTL sweeper, the durable
// archival sweep, the agent-liveness logger and the metrics collector, and
// returns a function that stops all of them.
func startBackgroundWorkers(agents *agentregistry.Registry, durable *durabletask.Store, urgent *urgenttask.Store) func() {
	stopCh := make(chan struct{})

	go urgentSweepLoop(urgent, stopCh)
	go archivalLoop(durable, stopCh)
	go livenessLogLoop(agents, stopCh)

	collector := metrics.NewCollector(agents, urgent, 15*time.Second)
	collector.Start()

	return func() {
		close(stopCh)
		collector.Stop()
	}
}

func urgentSweepLoop(urgent *urgenttask.Store, stopCh <-chan struct{}) {
	ticker := time.NewTicker(urgenttask.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			urgent.ExpireTasks()
		case <-stopCh:
			return
		}
	}
}

func archivalLoop(durable *durabletask.Store, stopCh <-chan struct{}) {
	ticker := time.NewTicker(archivalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := durable.ArchiveStale(time.Now())
			if err != nil {
				log.Logger.Warn().Err(err).Msg("durable task archival sweep failed")
				continue
			}
			metrics.ArchivalCyclesTotal.Inc()
			metrics.ArchivedTasksTotal.Add(float64(n))
			if n > 0 {
				log.Logger.Info().Int("archived", n).Msg("archived stale durable tasks")
			}
		case <-stopCh:
			return
		}
	}
}

func livenessLogLoop(agents *agentregistry.Registry, stopCh <-chan struct{}) {
	ticker := time.NewTicker(livenessLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			all, err := agents.ListAll()
			if err != nil {
				log.Logger.Warn().Err(err).Msg("agent liveness log: list failed")
				continue
			}
			now := time.Now()
			online := 0
			for _, a := range all {
				if a.IsOnline(now) {
					online++
				}
			}
			log.Logger.Info().Int("online", online).Int("total", len(all)).Msg("agent liveness")
		case <-stopCh:
			return
		}
	}
}
