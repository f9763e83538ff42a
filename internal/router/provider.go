package router

import (
	"time"

	"github.com/corgi-proxy/corgi/internal/config"
)

// InstanceStatus represents the current health status of an upstream
// instance, as last observed by the proxy or the crawler.
type InstanceStatus struct {
	Key        string    `json:"key"`
	Host       string    `json:"host"`
	Healthy    bool      `json:"healthy"`
	LastCheck  time.Time `json:"last_check"`
	ErrorCount int       `json:"error_count"`
}

// entry pairs one instance's static configuration with its mutable,
// routing-time health status.
type entry struct {
	cfg    config.InstanceConfig
	status InstanceStatus
}
