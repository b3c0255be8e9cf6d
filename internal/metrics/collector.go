// Copyright 2025 The Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics instruments the cascade/batch/supervisor domain with
// the Prometheus counters and histograms the run Supervisor exposes,
// built over the OTel meter provider internal/telemetry wires to a
// Prometheus reader.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector records run/step/receipt metrics for one process's
// Supervisor. A nil *Collector is safe to call methods on: every method
// no-ops when the receiver is nil, so wiring it is always optional.
type Collector struct {
	meter metric.Meter

	runsTotal    metric.Int64Counter
	runDuration  metric.Float64Histogram
	stepsTotal   metric.Int64Counter
	retriesTotal metric.Int64Counter
	receiptsTotal metric.Int64Counter
	costUSDTotal metric.Float64Counter
}

// NewCollector builds a Collector over mp. It registers every
// instrument eagerly so a misconfigured meter provider fails at
// construction rather than on the first recorded run.
func NewCollector(mp metric.MeterProvider) (*Collector, error) {
	meter := mp.Meter("aegis-cascade")
	c := &Collector{meter: meter}

	var err error
	c.runsTotal, err = meter.Int64Counter("cascade_runs_total",
		metric.WithDescription("Total number of cascade/batch runs started"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}
	c.runDuration, err = meter.Float64Histogram("cascade_run_duration_seconds",
		metric.WithDescription("Run duration from start to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	c.stepsTotal, err = meter.Int64Counter("cascade_steps_total",
		metric.WithDescription("Total number of cascade state transitions observed"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}
	c.retriesTotal, err = meter.Int64Counter("cascade_retries_total",
		metric.WithDescription("Total number of Provider Transport retry attempts"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}
	c.receiptsTotal, err = meter.Int64Counter("cascade_receipts_total",
		metric.WithDescription("Total number of receipts recorded, success or failure"),
		metric.WithUnit("{receipt}"))
	if err != nil {
		return nil, err
	}
	c.costUSDTotal, err = meter.Float64Counter("cascade_cost_usd_total",
		metric.WithDescription("Total estimated/priced cost recorded across all receipts"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RecordRunStart increments the run counter for mode.
func (c *Collector) RecordRunStart(ctx context.Context, mode string) {
	if c == nil {
		return
	}
	c.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordRunComplete records a terminal run's duration and status.
func (c *Collector) RecordRunComplete(ctx context.Context, mode, status string, d time.Duration) {
	if c == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode), attribute.String("status", status))
	c.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStep increments the step counter for one (step, kind) event.
func (c *Collector) RecordStep(ctx context.Context, step, kind string) {
	if c == nil {
		return
	}
	c.stepsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step), attribute.String("kind", kind)))
}

// RecordRetry increments the transport retry counter.
func (c *Collector) RecordRetry(ctx context.Context, reason string) {
	if c == nil {
		return
	}
	c.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordReceipt increments the receipt counter and adds costUSD (zero
// for a failed/estimated receipt with no usage) to the running total.
func (c *Collector) RecordReceipt(ctx context.Context, model string, costUSD float64, estimated bool) {
	if c == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.Bool("estimated", estimated))
	c.receiptsTotal.Add(ctx, 1, attrs)
	if costUSD > 0 {
		c.costUSDTotal.Add(ctx, costUSD, attrs)
	}
}
