package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/frame/config"
)

type RealtimeConfig struct {
	config.ConfigurationDefault

	// Connection management
	MaxConnections       int `envDefault:"10000" env:"MAX_CONNECTIONS"`
	HeartbeatIntervalSec int `envDefault:"30"    env:"HEARTBEAT_INTERVAL_SEC"`
	AuthGraceSec         int `envDefault:"10"    env:"AUTH_GRACE_SEC"`

	// Cache configuration. Last-seen presence records live here so REST
	// surfaces can read them without touching the registry.
	CacheName            string `envDefault:"defaultCache"           env:"CACHE_NAME"`
	CacheURI             string `envDefault:"redis://localhost:6379" env:"CACHE_URI"`
	CacheCredentialsFile string `envDefault:""                       env:"CACHE_CREDENTIALS_FILE"`

	// Queue the HTTP layer publishes persisted domain events onto.
	QueueEventIngressName string `envDefault:"realtime.event.ingress"       env:"QUEUE_EVENT_INGRESS_NAME"`
	QueueEventIngressURI  string `envDefault:"mem://realtime.event.ingress" env:"QUEUE_EVENT_INGRESS_URI"`

	// Queue announcing persisted notifications to the mobile push service.
	QueueOfflinePushName string `envDefault:"realtime.offline.push"       env:"QUEUE_OFFLINE_PUSH_NAME"`
	QueueOfflinePushURI  string `envDefault:"mem://realtime.offline.push" env:"QUEUE_OFFLINE_PUSH_URI"`
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *RealtimeConfig) Validate() error {
	var errs []error

	if c.MaxConnections < 1 {
		errs = append(errs, errors.New("MaxConnections must be >= 1"))
	}

	if c.HeartbeatIntervalSec <= 0 {
		errs = append(errs, errors.New("HeartbeatIntervalSec must be > 0"))
	}

	if c.AuthGraceSec <= 0 {
		errs = append(errs, errors.New("AuthGraceSec must be > 0"))
	}

	if c.AuthGraceSec >= c.HeartbeatIntervalSec {
		errs = append(errs, fmt.Errorf("AuthGraceSec (%d) must be < HeartbeatIntervalSec (%d)",
			c.AuthGraceSec, c.HeartbeatIntervalSec))
	}

	if err := validateCacheURI(c.CacheURI, "CacheURI"); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueueURI(c.QueueEventIngressURI, "QueueEventIngressURI"); err != nil {
		errs = append(errs, err)
	}
	if err := validateQueueURI(c.QueueOfflinePushURI, "QueueOfflinePushURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateCacheURI checks that a cache URI has a valid scheme.
func validateCacheURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"redis://", "nats://", "mem://", "memory://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
