// Package router resolves the upstream instance a proxied call addresses
// (the X-Corgi-Instance request header, or the sole configured instance
// in a single-instance deployment) to its configuration, and keeps a
// per-instance health record. Resolve does not consult that record: an
// unhealthy instance still resolves.
package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/corgi-proxy/corgi/internal/config"
)

// Registry resolves instance keys to configuration and tracks health.
// Instances are registered once at start-up from config.Config.Instances;
// health changes only through MarkSuccess and MarkFailure, which the proxy
// and crawler do not call.
type Registry struct {
	mu              sync.RWMutex
	entries         map[string]*entry
	defaultInstance string // only instance key, set automatically when exactly one is configured
}

// NewRegistry builds a Registry from the configured instance map. If
// exactly one instance is enabled, it becomes the default used when a
// request omits X-Corgi-Instance.
func NewRegistry(instances map[string]config.InstanceConfig) *Registry {
	r := &Registry{entries: make(map[string]*entry, len(instances))}

	var enabledKeys []string
	for key, cfg := range instances {
		r.entries[key] = &entry{
			cfg: cfg,
			status: InstanceStatus{
				Key:     key,
				Host:    cfg.Host,
				Healthy: true,
			},
		}
		if cfg.Enabled {
			enabledKeys = append(enabledKeys, key)
		}
	}
	if len(enabledKeys) == 1 {
		r.defaultInstance = enabledKeys[0]
	}
	return r
}

// Resolve returns the configuration for instanceKey. An empty
// instanceKey resolves to the registry's sole enabled instance, if there
// is exactly one; otherwise an empty key is an error.
func (r *Registry) Resolve(instanceKey string) (string, config.InstanceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := instanceKey
	if key == "" {
		if r.defaultInstance == "" {
			return "", config.InstanceConfig{}, fmt.Errorf("router: X-Corgi-Instance is required in a multi-instance deployment")
		}
		key = r.defaultInstance
	}

	e, ok := r.entries[key]
	if !ok {
		return "", config.InstanceConfig{}, fmt.Errorf("router: unknown instance %q", key)
	}
	if !e.cfg.Enabled {
		return "", config.InstanceConfig{}, fmt.Errorf("router: instance %q is disabled", key)
	}
	return key, e.cfg, nil
}

// MarkSuccess resets an instance's consecutive-error count and marks it healthy.
func (r *Registry) MarkSuccess(instanceKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[instanceKey]
	if !ok {
		return
	}
	e.status.Healthy = true
	e.status.ErrorCount = 0
	e.status.LastCheck = time.Now()
}

// MarkFailure increments an instance's consecutive-error count, marking
// it unhealthy once threshold is reached.
func (r *Registry) MarkFailure(instanceKey string, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[instanceKey]
	if !ok {
		return
	}
	e.status.ErrorCount++
	e.status.LastCheck = time.Now()
	if threshold > 0 && e.status.ErrorCount >= threshold {
		e.status.Healthy = false
	}
}

// Status returns a snapshot of one instance's health, or false if unknown.
func (r *Registry) Status(instanceKey string) (InstanceStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[instanceKey]
	if !ok {
		return InstanceStatus{}, false
	}
	return e.status, true
}

// List returns every registered instance's current status, sorted by key.
func (r *Registry) List() []InstanceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]InstanceStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status)
	}
	sortStatuses(out)
	return out
}

func sortStatuses(s []InstanceStatus) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Key < s[j-1].Key; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
