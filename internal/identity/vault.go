// Package identity provides alias derivation and secret storage for the
// identity salt and per-instance crawler credentials.
package identity

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "corgi"

// Vault provides secure secret storage using the OS keychain, with
// fallback to environment variables. Used for the identity salt and
// per-instance crawler bearer tokens.
type Vault struct{}

func New() *Vault {
	return &Vault{}
}

// Set stores a secret under the given name (e.g. "salt", or
// "instance:mastodon.social") in the OS keychain.
func (v *Vault) Set(name, secret string) error {
	return keyring.Set(serviceName, name, secret)
}

// Get retrieves a secret, falling back to the environment variable
// CORGI_SECRET_{UPPER(name)}, with ":", "-" and "." in name replaced by "_".
func (v *Vault) Get(name string) (string, error) {
	secret, err := keyring.Get(serviceName, name)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := envName(name)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no secret found for %q: not in keychain and %s not set", name, envKey)
}

func (v *Vault) Delete(name string) error {
	return keyring.Delete(serviceName, name)
}

func envName(name string) string {
	n := strings.ToUpper(name)
	n = strings.NewReplacer(":", "_", "-", "_", ".", "_").Replace(n)
	return "CORGI_SECRET_" + n
}

// ResolveKeyRef parses a key reference and retrieves the corresponding
// secret. Supported formats:
//   - "keyring://corgi/<name>" (preferred)
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/secret"
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://corgi/<name>\")", keyRef)
		}
		return v.Get(parts[1])

	case strings.HasPrefix(keyRef, "env:"):
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)

	case strings.HasPrefix(keyRef, "file://"):
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading secret file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("secret file %q is empty", filePath)
		}
		return key, nil

	default:
		return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://corgi/<name>\", \"env:VARIABLE_NAME\", or \"file:///path/to/secret\")", keyRef)
	}
}
