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

package metrics

import (
	"context"
	"fmt"
	"net/http"

	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"

	"go.opentelemetry.io/otel"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServePrometheus installs an OTel meter provider backed by a Prometheus
// exporter, serves it at addr's "/metrics" path, and returns a Handle
// recording against it plus a shutdown func releasing both the HTTP
// listener and the meter provider.
func ServePrometheus(addr string) (Handle, func(context.Context) error, error) {
	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: creating prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter = provider.Meter("mfs")

	handle, err := NewOTelHandle()
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: building handle: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	shutdown := func(ctx context.Context) error {
		if err := httpServer.Shutdown(ctx); err != nil {
			return err
		}
		return provider.Shutdown(ctx)
	}
	return handle, shutdown, nil
}
