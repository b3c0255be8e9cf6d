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

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/capability"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/credentials"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/log"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/metrics"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/pricing"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/providerclient"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/receipts"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/supervisor"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/telemetry"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/transport"
)

// defaultProviderURL is used when neither --provider-url nor
// AEGIS_PROVIDER_BASE_URL is set.
const defaultProviderURL = "https://api.openai.com"

// appContext carries the persistent flags plus the lazily-built
// collaborators every subcommand shares.
type appContext struct {
	version       string
	baseDir       string
	providerURL   string
	pricingPath   string
	metricsAddr   string
	traceExporter string
	traceEndpoint string
	plain         bool

	built *builtApp
}

// builtApp is the assembled core: everything the Run API needs.
type builtApp struct {
	Supervisor *supervisor.Supervisor
	Client     *providerclient.Client
	Receipts   *receipts.Store
	CapStore   *capability.Store
	Prober     *capability.Prober
	Pricing    *pricing.Table
	Telemetry  *telemetry.Provider

	stops []func()
}

func (b *builtApp) Close() {
	for i := len(b.stops) - 1; i >= 0; i-- {
		b.stops[i]()
	}
}

// build assembles the core once per process. Subcommands call this in
// their RunE, so flag parsing has already happened.
func (a *appContext) build(ctx context.Context) (*builtApp, error) {
	if a.built != nil {
		return a.built, nil
	}

	logger := log.New(log.FromEnv())

	providerURL := a.providerURL
	if providerURL == "" {
		providerURL = os.Getenv("AEGIS_PROVIDER_BASE_URL")
	}
	if providerURL == "" {
		providerURL = defaultProviderURL
	}

	apiKey, err := credentials.Default().Get("provider-api-key")
	if err != nil {
		return nil, fmt.Errorf("resolve provider API key (keychain or AEGIS_PROVIDER_API_KEY): %w", err)
	}

	tc, err := transport.New(transport.DefaultConfig(), nil)
	if err != nil {
		return nil, err
	}
	client := providerclient.New(tc, providerURL, apiKey)

	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    "aegis-cascade",
		ServiceVersion: a.version,
		Exporter:       a.traceExporter,
		Endpoint:       a.traceEndpoint,
	})
	if err != nil {
		return nil, err
	}
	collector, err := metrics.NewCollector(tel.MeterProvider())
	if err != nil {
		return nil, err
	}

	app := &builtApp{Client: client, Telemetry: tel}
	app.stops = append(app.stops, func() { tel.Shutdown(context.Background()) })

	if a.metricsAddr != "" {
		srv := &http.Server{Addr: a.metricsAddr, Handler: tel.MetricsHandler()}
		go srv.ListenAndServe()
		app.stops = append(app.stops, func() { srv.Close() })
	}

	store, err := receipts.Open(filepath.Join(a.baseDir, "receipts.db"))
	if err != nil {
		return nil, fmt.Errorf("open receipt ledger: %w", err)
	}
	app.Receipts = store
	app.stops = append(app.stops, func() { store.Close() })

	capStore, err := capability.Open(filepath.Join(a.baseDir, "capabilities.json"), 0, nil)
	if err != nil {
		return nil, fmt.Errorf("open capability cache: %w", err)
	}
	app.CapStore = capStore
	app.Prober = capability.NewProber(client, capStore, nil)

	table := pricing.Empty()
	if a.pricingPath != "" {
		table, err = pricing.Load(a.pricingPath)
		if err != nil {
			return nil, err
		}
		stop, werr := table.Watch(a.pricingPath, logger)
		if werr == nil {
			app.stops = append(app.stops, stop)
		}
	}
	app.Pricing = table

	app.Supervisor = supervisor.New(supervisor.Deps{
		Client:   client,
		Receipts: store,
		CapStore: capStore,
		Prober:   app.Prober,
		Pricing:  table,
		Metrics:  collector,
		Log:      logger,
		BaseDir:  a.baseDir,
	})

	a.built = app
	return app, nil
}
