// Copyright 2024 Google LLC
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

// Package metrics instruments the six MFS operations with OpenTelemetry
// counters and a latency histogram, exported over Prometheus. It scopes
// down common.OpsMetricHandle (gcsfuse instruments GCS calls, file-cache
// reads, and fs ops; MFS has only the fs ops) to the handful of
// operation names this server dispatches.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Op names, used as the "op" attribute on every metric below.
const (
	OpLookup   = "lookup"
	OpStat     = "stat"
	OpRead     = "read"
	OpWrite    = "write"
	OpCreate   = "create"
	OpUnlink   = "unlink"
	OpShutdown = "shutdown"
)

// ShutdownFn matches common.ShutdownFn: a deferred teardown for a
// constructed metrics provider.
type ShutdownFn func(ctx context.Context) error

var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100,
	130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000,
)

// Handle is the subset of common.OpsMetricHandle that MFS needs.
type Handle interface {
	OpsCount(ctx context.Context, inc int64, op string)
	OpsLatency(ctx context.Context, latency time.Duration, op string)
	OpsErrorCount(ctx context.Context, inc int64, op string)
}

var meter = otel.Meter("mfs")

var opAttributeSets sync.Map

func getOpAttributeSet(op string) metric.MeasurementOption {
	if v, ok := opAttributeSets.Load(op); ok {
		return v.(metric.MeasurementOption)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(attribute.String("op", op)))
	v, _ := opAttributeSets.LoadOrStore(op, opt)
	return v.(metric.MeasurementOption)
}

type otelHandle struct {
	opsCount      metric.Int64Counter
	opsLatency    metric.Float64Histogram
	opsErrorCount metric.Int64Counter
}

func (h *otelHandle) OpsCount(ctx context.Context, inc int64, op string) {
	h.opsCount.Add(ctx, inc, getOpAttributeSet(op))
}

func (h *otelHandle) OpsLatency(ctx context.Context, latency time.Duration, op string) {
	h.opsLatency.Record(ctx, float64(latency.Microseconds()), getOpAttributeSet(op))
}

func (h *otelHandle) OpsErrorCount(ctx context.Context, inc int64, op string) {
	h.opsErrorCount.Add(ctx, inc, getOpAttributeSet(op))
}

// NewOTelHandle builds a Handle backed by the global OTel meter provider
// (see ServePrometheus, which installs one exporting to Prometheus).
func NewOTelHandle() (Handle, error) {
	opsCount, err1 := meter.Int64Counter("mfs/ops_count",
		metric.WithDescription("The cumulative number of operations processed by the server."))
	opsLatency, err2 := meter.Float64Histogram("mfs/ops_latency",
		metric.WithDescription("The cumulative distribution of operation latencies."),
		metric.WithUnit("us"), defaultLatencyDistribution)
	opsErrorCount, err3 := meter.Int64Counter("mfs/ops_error_count",
		metric.WithDescription("The cumulative number of operations that returned rc = -1."))

	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &otelHandle{opsCount: opsCount, opsLatency: opsLatency, opsErrorCount: opsErrorCount}, nil
}

// noopHandle discards every measurement; used when --metrics-addr is unset.
type noopHandle struct{}

func (noopHandle) OpsCount(context.Context, int64, string)           {}
func (noopHandle) OpsLatency(context.Context, time.Duration, string) {}
func (noopHandle) OpsErrorCount(context.Context, int64, string)      {}

// NewNoopHandle returns a Handle that records nothing.
func NewNoopHandle() Handle { return noopHandle{} }
