// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

// Package secrets resolves API keys for SDK-backed providers from the
// environment first, then the OS keyring (Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows).
package secrets

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// service is the keyring service name under which Lectern stores keys.
const service = "lectern"

// envVar returns the conventional environment variable for a provider
// (e.g. OPENAI_API_KEY, ANTHROPIC_API_KEY).
func envVar(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

// Resolve returns the API key for provider, consulting the environment
// first and the OS keyring second.
func Resolve(provider string) (string, error) {
	if provider == "" {
		return "", lecterr.New(lecterr.CodeSecretInvalidInput, "secret resolve: provider must not be empty")
	}

	if v := os.Getenv(envVar(provider)); v != "" {
		return v, nil
	}

	val, err := keyring.Get(service, provider)
	if err != nil {
		if lecterr.Is(err, keyring.ErrNotFound) {
			return "", lecterr.Errorf(lecterr.CodeSecretNotFound,
				"no API key for %q: set %s or run `lectern secret set %s`",
				provider, envVar(provider), provider)
		}
		return "", lecterr.Wrapf(err, lecterr.CodeSecretStoreFailure, "reading keyring entry for %s", provider)
	}
	return val, nil
}

// Set stores an API key for provider in the OS keyring.
func Set(provider, value string) error {
	if provider == "" {
		return lecterr.New(lecterr.CodeSecretInvalidInput, "secret set: provider must not be empty")
	}
	if value == "" {
		return lecterr.New(lecterr.CodeSecretInvalidInput, "secret set: value must not be empty")
	}

	if err := keyring.Set(service, provider, value); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeSecretStoreFailure, "storing keyring entry for %s", provider)
	}
	return nil
}

// Delete removes the stored API key for provider.
func Delete(provider string) error {
	if provider == "" {
		return lecterr.New(lecterr.CodeSecretInvalidInput, "secret delete: provider must not be empty")
	}

	if err := keyring.Delete(service, provider); err != nil {
		if lecterr.Is(err, keyring.ErrNotFound) {
			return lecterr.Errorf(lecterr.CodeSecretNotFound, "no stored API key for %q", provider)
		}
		return lecterr.Wrapf(err, lecterr.CodeSecretStoreFailure, "deleting keyring entry for %s", provider)
	}
	return nil
}
