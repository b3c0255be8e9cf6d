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

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutExporter(t *testing.T) {
	p, err := New(context.Background(), Config{ServiceName: "aegis-test", ServiceVersion: "0.0.0"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.NotNil(t, p.Tracer("test"))
	assert.NotNil(t, p.MeterProvider())
	assert.NotNil(t, p.MetricsHandler())
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), Config{ServiceName: "aegis-test", Exporter: "carrier-pigeon"})
	require.Error(t, err)
}

func TestTracerProducesSpans(t *testing.T) {
	p, err := New(context.Background(), Config{ServiceName: "aegis-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := p.Tracer("test").Start(context.Background(), "step")
	span.End()
	assert.True(t, span.SpanContext().IsValid())
}
