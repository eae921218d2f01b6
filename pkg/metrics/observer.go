package metrics

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// DefaultCollectInterval is how often the observer refreshes gauges
// from the status source.
const DefaultCollectInterval = 15 * time.Second

// StatusSource supplies the current system status for gauge
// collection. Satisfied by the orchestrator.
type StatusSource interface {
	Status() types.SystemStatus
}

// Observer feeds the metrics from two directions: it subscribes to the
// event bus and counts what flows past, and it periodically reads the
// status source to refresh point-in-time gauges.
type Observer struct {
	metrics  *Metrics
	broker   *events.Broker
	source   StatusSource
	interval time.Duration
	logger   zerolog.Logger

	sub    events.Subscriber
	stopCh chan struct{}
	done   chan struct{}
}

// NewObserver wires an observer. Source may be nil, in which case only
// event-driven metrics update. Interval zero takes the default.
func NewObserver(m *Metrics, broker *events.Broker, source StatusSource, interval time.Duration) *Observer {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Observer{
		metrics:  m,
		broker:   broker,
		source:   source,
		interval: interval,
		logger:   log.WithComponent("metrics"),
	}
}

// Start subscribes to the bus and begins the collection loop.
func (o *Observer) Start() {
	o.sub = o.broker.Subscribe()
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})

	go o.run()
	o.logger.Debug().Dur("interval", o.interval).Msg("metrics observer started")
}

// Stop unsubscribes and waits for the loop to exit.
func (o *Observer) Stop() {
	if o.stopCh == nil {
		return
	}
	close(o.stopCh)
	<-o.done
	o.broker.Unsubscribe(o.sub)
	o.stopCh = nil
}

func (o *Observer) run() {
	defer close(o.done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.collect()
	for {
		select {
		case <-o.stopCh:
			return
		case event := <-o.sub:
			o.apply(event)
		case <-ticker.C:
			o.collect()
		}
	}
}

// apply updates counters from one bus event.
func (o *Observer) apply(event *events.Event) {
	if event == nil {
		return
	}
	o.metrics.EventsObserved.WithLabelValues(string(event.Type)).Inc()

	meta := event.Metadata
	switch event.Type {
	case events.EventDeploymentCompleted:
		workspace := meta["workspace_id"]
		o.metrics.DeploymentsTotal.WithLabelValues(workspace, meta["success"]).Inc()
		if d, err := time.ParseDuration(meta["duration"]); err == nil {
			o.metrics.DeploymentDuration.WithLabelValues(workspace).Observe(d.Seconds())
		}
		if meta["sla_exceeded"] == "true" {
			o.metrics.DeploymentsSLAMiss.WithLabelValues(workspace).Inc()
		}

	case events.EventHealthCheckCompleted:
		o.metrics.HealthChecksTotal.WithLabelValues(meta["overall"]).Inc()

	case events.EventFailureDetected:
		o.metrics.FailuresDetected.WithLabelValues(meta["failure_type"], meta["component"]).Inc()

	case events.EventRecoveryStarted:
		o.metrics.RecoveriesInFlight.Inc()

	case events.EventRecoveryCompleted:
		o.metrics.RecoveriesInFlight.Dec()
		o.metrics.RecoveryAttempts.WithLabelValues(meta["component"], meta["success"]).Inc()

	case events.EventBudgetAlert:
		o.applyBudget(meta, "alert")

	case events.EventBudgetExceeded:
		o.applyBudget(meta, "exceeded")

	case events.EventSystemStatusChanged:
		o.metrics.SystemHealthState.Set(healthStateValue(types.HealthState(meta["overall"])))
	}
}

func (o *Observer) applyBudget(meta map[string]string, kind string) {
	workspace := meta["workspace_id"]
	o.metrics.BudgetAlerts.WithLabelValues(workspace, kind).Inc()
	if spend, err := strconv.ParseFloat(meta["spend"], 64); err == nil {
		o.metrics.BudgetSpend.WithLabelValues(workspace).Set(spend)
	}
	if limit, err := strconv.ParseFloat(meta["limit"], 64); err == nil {
		o.metrics.BudgetLimit.WithLabelValues(workspace).Set(limit)
	}
}

// collect refreshes gauges from the status source.
func (o *Observer) collect() {
	if o.source == nil {
		return
	}
	status := o.source.Status()

	healthy, unhealthy := 0, 0
	for _, comp := range status.Components {
		if comp.Status == types.HealthHealthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	o.metrics.ServicesHealthy.Set(float64(healthy))
	o.metrics.ServicesUnhealthy.Set(float64(unhealthy))
	o.metrics.SystemHealthState.Set(healthStateValue(status.Overall))
}
