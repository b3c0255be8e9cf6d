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

// Package credentials implements the CredentialProvider capability the
// core consumes for the Provider API key: a chain that tries the OS
// credential store first and falls back to an environment variable.
package credentials

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name credential entries live under in
// the OS store.
const keyringService = "aegis-cascade"

// ErrNotFound is returned when no source holds the requested credential.
var ErrNotFound = errors.New("credential not found")

// Provider resolves named credentials. Get returns ErrNotFound when the
// credential exists in no source; any other error means a source was
// reachable but failed.
type Provider interface {
	Get(name string) (string, error)
}

// Chain tries each Provider in order and returns the first hit.
type Chain []Provider

func (c Chain) Get(name string) (string, error) {
	for _, p := range c {
		v, err := p.Get(name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// Default is the standard resolution order: OS credential store when
// available, else the environment.
func Default() Chain {
	chain := Chain{}
	if s := NewKeyringStore(); s.available {
		chain = append(chain, s)
	}
	return append(chain, EnvStore{})
}

// KeyringStore reads credentials from the OS credential vault (macOS
// Keychain, Linux Secret Service, Windows Credential Manager).
type KeyringStore struct {
	available bool
}

// NewKeyringStore probes the vault once with a key that cannot exist;
// any failure other than not-found marks the vault unavailable (locked,
// headless session, no D-Bus) so the chain skips it.
func NewKeyringStore() *KeyringStore {
	_, err := keyring.Get(keyringService, "__availability_probe__")
	return &KeyringStore{available: err == nil || errors.Is(err, keyring.ErrNotFound)}
}

func (s *KeyringStore) Get(name string) (string, error) {
	if !s.available {
		return "", ErrNotFound
	}
	v, err := keyring.Get(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Set stores a credential in the vault.
func (s *KeyringStore) Set(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// Delete removes a credential from the vault.
func (s *KeyringStore) Delete(name string) error {
	err := keyring.Delete(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// EnvStore reads credentials from environment variables. A name like
// "provider-api-key" is looked up as AEGIS_PROVIDER_API_KEY.
type EnvStore struct{}

func (EnvStore) Get(name string) (string, error) {
	v, ok := os.LookupEnv(envVar(name))
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func envVar(name string) string {
	upper := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name))
	if strings.HasPrefix(upper, "AEGIS_") {
		return upper
	}
	return "AEGIS_" + upper
}
