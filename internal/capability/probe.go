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

package capability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/providerclient"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/transport"
)

// probeTemperature is the value sent on the temperature probe; any value
// inside the Provider's accepted range works, the probe only cares
// whether the parameter itself is rejected.
const probeTemperature = 0.0

// Prober issues one minimal probe request per optional feature and
// folds their outcomes into a Store. Each feature's outcome is
// classified independently: an explicit parameter-rejected error flips
// the cached boolean to false, a successful response carrying the
// feature flips it to true, and anything transient leaves the cache
// exactly as it was.
type Prober struct {
	client *providerclient.Client
	store  *Store
	now    func() time.Time
}

// NewProber builds a Prober over an already-configured Provider client
// and capability store.
func NewProber(client *providerclient.Client, store *Store, now func() time.Time) *Prober {
	if now == nil {
		now = time.Now
	}
	return &Prober{client: client, store: store, now: now}
}

// ProbeModel refreshes model's capability record. When force is false
// and a fresh (within-TTL) record exists, the cached record is returned
// without issuing any request; force ignores the TTL entirely.
func (p *Prober) ProbeModel(ctx context.Context, model string, force bool) (Record, error) {
	if !force {
		if rec, found, stale := p.store.Get(model); found && !stale {
			return rec, nil
		}
	}

	p.probeTemperatureFeature(ctx, model)
	p.probeChainingFeature(ctx, model)
	p.probeFileSearchFeature(ctx, model)

	if err := p.store.Save(); err != nil {
		return Record{}, err
	}
	rec, _, _ := p.store.Get(model)
	return rec, nil
}

func (p *Prober) probeTemperatureFeature(ctx context.Context, model string) {
	temp := probeTemperature
	_, err := p.client.CreateResponse(ctx, providerclient.ResponsesRequest{
		Model:       model,
		Input:       []providerclient.InputSegment{{Text: probePrompt}},
		Temperature: &temp,
		StepKey:     "probe:temperature",
	})
	p.store.Apply(model, "temperature", classifyProbe(err, "temperature"))
}

func (p *Prober) probeChainingFeature(ctx context.Context, model string) {
	seed, err := p.client.CreateResponse(ctx, providerclient.ResponsesRequest{
		Model:   model,
		Input:   []providerclient.InputSegment{{Text: probePrompt}},
		StepKey: "probe:chain_seed",
	})
	if err != nil {
		// The seed request carries no optional feature; its failure says
		// nothing about chaining support.
		p.store.Apply(model, "previous_response", OutcomeUnchanged)
		return
	}
	_, err = p.client.CreateResponse(ctx, providerclient.ResponsesRequest{
		Model:              model,
		Input:              []providerclient.InputSegment{{Text: probePrompt}},
		PreviousResponseID: seed.ResponseID,
		StepKey:            "probe:chain",
	})
	p.store.Apply(model, "previous_response", classifyProbe(err, "previous_response_id"))
}

func (p *Prober) probeFileSearchFeature(ctx context.Context, model string) {
	vsID, err := p.client.CreateVectorStore(ctx, "capability-probe"+p.now().Format("020120061504"))
	if err != nil {
		p.store.Apply(model, "file_search", OutcomeUnchanged)
		return
	}
	defer p.client.DeleteVectorStore(ctx, vsID)

	_, err = p.client.CreateResponse(ctx, providerclient.ResponsesRequest{
		Model:      model,
		Input:      []providerclient.InputSegment{{Text: probePrompt}},
		FileSearch: &providerclient.FileSearchTool{VectorStoreIDs: []string{vsID}},
		StepKey:    "probe:file_search",
	})
	p.store.Apply(model, "file_search", classifyProbe(err, "file_search"))
}

const probePrompt = "Reply with the single word ok."

// classifyProbe maps one probe request's result into an Outcome. Only a
// non-retryable validation error counts as "not supported", and only
// when its message names the probed parameter or says "unsupported
// parameter" or "not supported"; every transient failure (429, 5xx,
// timeout, breaker open) is noise and must not touch the cache.
func classifyProbe(err error, feature string) Outcome {
	if err == nil {
		return OutcomeSupported
	}
	var pe *transport.ProviderError
	if !errors.As(err, &pe) {
		return OutcomeUnchanged
	}
	if pe.Retryable || pe.Kind == transport.KindCoolingDown {
		return OutcomeUnchanged
	}
	if pe.Kind == transport.KindValidation && mentionsFeature(pe.MessageSanitized, feature) {
		return OutcomeNotSupported
	}
	return OutcomeUnchanged
}

func mentionsFeature(msg, feature string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, strings.ToLower(feature)) ||
		strings.Contains(m, "unsupported parameter") ||
		strings.Contains(m, "not supported")
}
