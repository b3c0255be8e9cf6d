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

package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStoreGet(t *testing.T) {
	t.Setenv("AEGIS_PROVIDER_API_KEY", "sk-test-123")

	v, err := EnvStore{}.Get("provider-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", v)
}

func TestEnvStoreMissing(t *testing.T) {
	_, err := EnvStore{}.Get("definitely-not-set-anywhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnvVarNormalization(t *testing.T) {
	assert.Equal(t, "AEGIS_PROVIDER_API_KEY", envVar("provider-api-key"))
	assert.Equal(t, "AEGIS_PROVIDER_API_KEY", envVar("AEGIS_PROVIDER_API_KEY"))
	assert.Equal(t, "AEGIS_A_B_C", envVar("a.b/c"))
}

type fixedStore map[string]string

func (f fixedStore) Get(name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

type failingStore struct{}

func (failingStore) Get(string) (string, error) { return "", errors.New("vault locked") }

func TestChainFirstHitWins(t *testing.T) {
	chain := Chain{fixedStore{"k": "first"}, fixedStore{"k": "second"}}

	v, err := chain.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestChainFallsThroughNotFound(t *testing.T) {
	chain := Chain{fixedStore{}, fixedStore{"k": "fallback"}}

	v, err := chain.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestChainSurfacesRealErrors(t *testing.T) {
	chain := Chain{failingStore{}, fixedStore{"k": "unreached"}}

	_, err := chain.Get("k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestChainExhaustedReturnsNotFound(t *testing.T) {
	_, err := Chain{fixedStore{}}.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
}
