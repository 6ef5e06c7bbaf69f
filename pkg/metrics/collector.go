package metrics

import (
	"time"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/urgenttask"
)

// Collector periodically samples agent liveness and urgent-queue depth into
// the gauge metrics; counters are updated inline by the broker as events
// happen, not by this collector.
type Collector struct {
	agents  *agentregistry.Registry
	urgent  *urgenttask.Store
	stopCh  chan struct{}
	period  time.Duration
}

// NewCollector creates a new metrics collector sampling every period.
func NewCollector(agents *agentregistry.Registry, urgent *urgenttask.Store, period time.Duration) *Collector {
	return &Collector{
		agents: agents,
		urgent: urgent,
		stopCh: make(chan struct{}),
		period: period,
	}
}

// Start begins collecting metrics on a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	UrgentQueueDepth.Set(float64(c.urgent.Len()))

	all, err := c.agents.ListAll()
	if err != nil {
		return
	}
	now := time.Now()
	online := 0
	for _, a := range all {
		if a.IsOnline(now) {
			online++
		}
	}
	AgentsOnline.Set(float64(online))
}
