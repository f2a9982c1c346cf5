// Package config defines the connector configuration model.
//
// A ConnectionConfig is a tagged union: the Type field selects which
// protocol-specific section must be present (DirectDB or RestAPI), and
// Validate checks the union exhaustively at construction time so no component
// downstream ever has to ask "which fields exist". Configs are treated as
// immutable once validated.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// ConnectorType selects the transport used to reach a target system.
type ConnectorType string

const (
	// TypeDirectDB connects straight to the backing database
	TypeDirectDB ConnectorType = "direct_db"
	// TypeRestAPI connects through the server's REST API
	TypeRestAPI ConnectorType = "rest_api"
)

// Dialect identifies the relational dialect of a direct database connection.
type Dialect string

const (
	DialectSQLServer Dialect = "sqlserver"
	DialectOracle    Dialect = "oracle"
)

// ConnectionConfig describes one target system. Exactly one of DirectDB or
// RestAPI must be set, matching Type.
type ConnectionConfig struct {
	// SystemID uniquely identifies the target system across the registry
	SystemID string `yaml:"system_id" json:"system_id"`
	// Type selects the protocol variant
	Type ConnectorType `yaml:"type" json:"type"`
	// CredentialRef names the credential record in the vault store
	CredentialRef string `yaml:"credential_ref" json:"credential_ref"`

	// DirectDB holds database-specific options; required when Type is direct_db
	DirectDB *DirectDBConfig `yaml:"direct_db,omitempty" json:"direct_db,omitempty"`
	// RestAPI holds API-specific options; required when Type is rest_api
	RestAPI *RestAPIConfig `yaml:"rest_api,omitempty" json:"rest_api,omitempty"`

	// Pool controls the per-system connection pool
	Pool PoolConfig `yaml:"pool" json:"pool"`
	// Retry controls transient-failure retries
	Retry RetryConfig `yaml:"retry" json:"retry"`
	// Breaker controls the per-system circuit breaker
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
	// Timeouts define connection and query deadlines
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
}

// DirectDBConfig contains options for a direct database connection.
type DirectDBConfig struct {
	Dialect  Dialect `yaml:"dialect" json:"dialect"`
	Host     string  `yaml:"host" json:"host"`
	Port     int     `yaml:"port" json:"port"`
	Database string  `yaml:"database" json:"database"`
	// Username pairs with the vault credential; the password itself lives
	// only in the vault
	Username      string `yaml:"username" json:"username"`
	EnableTLS     bool   `yaml:"enable_tls" json:"enable_tls"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify" json:"tls_skip_verify"`
	// ServiceName is the Oracle service name; ignored for sqlserver
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// RestAPIConfig contains options for a remote REST API connection.
type RestAPIConfig struct {
	BaseURL       string            `yaml:"base_url" json:"base_url"`
	Headers       map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	TLSSkipVerify bool              `yaml:"tls_skip_verify" json:"tls_skip_verify"`
}

// PoolConfig controls the per-system connection pool.
type PoolConfig struct {
	MinSize             int           `yaml:"min_size" json:"min_size"`
	MaxSize             int           `yaml:"max_size" json:"max_size"`
	AcquireTimeout      time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// RetryConfig controls retry behavior for transport-class failures.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier      float64       `yaml:"multiplier" json:"multiplier"`
	RandomizeFactor float64       `yaml:"randomize_factor" json:"randomize_factor"`
}

// BreakerConfig controls the circuit breaker shared per target system.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
}

// TimeoutConfig defines operation deadlines.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect" json:"connect"`
	Query   time.Duration `yaml:"query" json:"query"`
}

// NewConnectionConfig returns a config with production defaults for the given
// system and type. Protocol sections still have to be filled in by the caller.
func NewConnectionConfig(systemID string, connectorType ConnectorType) *ConnectionConfig {
	return &ConnectionConfig{
		SystemID: systemID,
		Type:     connectorType,
		Pool: PoolConfig{
			MinSize:             1,
			MaxSize:             10,
			AcquireTimeout:      30 * time.Second,
			IdleTimeout:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialDelay:    time.Second,
			MaxDelay:        30 * time.Second,
			Multiplier:      2.0,
			RandomizeFactor: 0.25,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
			Query:   30 * time.Second,
		},
	}
}

// Validate checks the configuration exhaustively. It enforces the tagged
// union: the section matching Type must be present and the other absent.
func (c *ConnectionConfig) Validate() error {
	if c.SystemID == "" {
		return fmt.Errorf("system_id is required")
	}
	if c.CredentialRef == "" {
		return fmt.Errorf("credential_ref is required")
	}

	switch c.Type {
	case TypeDirectDB:
		if c.DirectDB == nil {
			return fmt.Errorf("direct_db section is required for type %s", c.Type)
		}
		if c.RestAPI != nil {
			return fmt.Errorf("rest_api section must not be set for type %s", c.Type)
		}
		if err := c.DirectDB.validate(); err != nil {
			return err
		}
	case TypeRestAPI:
		if c.RestAPI == nil {
			return fmt.Errorf("rest_api section is required for type %s", c.Type)
		}
		if c.DirectDB != nil {
			return fmt.Errorf("direct_db section must not be set for type %s", c.Type)
		}
		if err := c.RestAPI.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown connector type %q", c.Type)
	}

	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool.max_size must be positive")
	}
	if c.Pool.MinSize < 0 || c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool.min_size must be between 0 and pool.max_size")
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Timeouts.Connect <= 0 || c.Timeouts.Query <= 0 {
		return fmt.Errorf("timeouts.connect and timeouts.query must be positive")
	}

	return nil
}

func (d *DirectDBConfig) validate() error {
	switch d.Dialect {
	case DialectSQLServer, DialectOracle:
	default:
		return fmt.Errorf("unknown dialect %q", d.Dialect)
	}
	if d.Host == "" {
		return fmt.Errorf("direct_db.host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("direct_db.port must be in 1..65535")
	}
	if d.Database == "" && d.Dialect == DialectSQLServer {
		return fmt.Errorf("direct_db.database is required for sqlserver")
	}
	if d.ServiceName == "" && d.Dialect == DialectOracle {
		return fmt.Errorf("direct_db.service_name is required for oracle")
	}
	if d.Username == "" {
		return fmt.Errorf("direct_db.username is required")
	}
	return nil
}

func (r *RestAPIConfig) validate() error {
	if r.BaseURL == "" {
		return fmt.Errorf("rest_api.base_url is required")
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("rest_api.base_url %q is not a valid URL", r.BaseURL)
	}
	return nil
}
