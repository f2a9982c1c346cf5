// Package database implements the direct-database connection variant over
// database/sql, covering the SQL Server and Oracle dialects the product
// family ships on.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb" // sqlserver driver
	_ "github.com/sijms/go-ora/v2"      // oracle driver
	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/vault"
)

// openDB is a seam for installing a stub driver in tests.
var openDB = sql.Open

// Connection is a single live database session for one target system.
type Connection struct {
	id     string
	cfg    *config.ConnectionConfig
	vault  *vault.Vault
	store  *vault.Store
	logger *zap.Logger

	mu      sync.Mutex
	db      *sql.DB
	open    bool
	version *core.VersionInfo
}

// New creates an unopened database connection. The pool opens it on first
// acquisition.
func New(cfg *config.ConnectionConfig, v *vault.Vault, store *vault.Store, logger *zap.Logger) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		cfg:    cfg,
		vault:  v,
		store:  store,
		logger: logger.With(zap.String("component", "db_connection"), zap.String("system_id", cfg.SystemID)),
	}
}

// ID implements core.Connection
func (c *Connection) ID() string { return c.id }

// SystemID implements core.Connection
func (c *Connection) SystemID() string { return c.cfg.SystemID }

// Protocol implements core.Connection
func (c *Connection) Protocol() core.Protocol { return core.ProtocolDatabase }

// Open authenticates against the backend using the vault credential. The
// decrypted secret is wiped as soon as the handshake material is built.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return cmerrors.New(cmerrors.ErrorTypeValidation, "connection already open").WithSystem(c.cfg.SystemID)
	}

	record, err := c.store.Get(c.cfg.CredentialRef)
	if err != nil {
		return err
	}

	secret, err := c.vault.Decrypt(record)
	if err != nil {
		return cmerrors.Wrap(err, cmerrors.ErrorTypeAuthentication,
			fmt.Sprintf("credential %q could not be decrypted", c.cfg.CredentialRef)).
			WithSystem(c.cfg.SystemID)
	}

	dsn, driver := c.buildDSN(string(secret))
	vault.Zero(secret)

	db, err := openDB(driver, dsn)
	if err != nil {
		return cmerrors.Wrap(err, cmerrors.ErrorTypeConfig, "failed to prepare database handle").
			WithSystem(c.cfg.SystemID)
	}

	// One backend session per connection; pooling happens a layer up.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Connect)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return c.classify(err, "open")
	}

	c.db = db
	c.open = true
	c.version = nil

	c.logger.Debug("database connection opened",
		zap.String("connection_id", c.id),
		zap.String("dialect", string(c.cfg.DirectDB.Dialect)))

	return nil
}

// Close implements core.Connection. Closing an already-closed connection is
// harmless.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}

	c.open = false
	c.version = nil
	err := c.db.Close()
	c.db = nil

	if err != nil {
		return cmerrors.Wrap(err, cmerrors.ErrorTypeConnection, "failed to close connection").
			WithSystem(c.cfg.SystemID)
	}
	return nil
}

// Ping implements core.Connection
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	db := c.db
	open := c.open
	c.mu.Unlock()

	if !open {
		return cmerrors.New(cmerrors.ErrorTypeConnection, "connection is closed").WithSystem(c.cfg.SystemID)
	}

	if err := db.PingContext(ctx); err != nil {
		return c.classify(err, "ping")
	}
	return nil
}

// Query executes a parameterized statement and materializes the rows.
func (c *Connection) Query(ctx context.Context, stmt *core.Statement) (*core.RawResult, error) {
	c.mu.Lock()
	db := c.db
	open := c.open
	c.mu.Unlock()

	if !open {
		return nil, cmerrors.New(cmerrors.ErrorTypeConnection, "connection is closed").WithSystem(c.cfg.SystemID)
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Query)
	defer cancel()

	start := time.Now()
	rows, err := db.QueryContext(queryCtx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, c.classify(err, "query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, c.classify(err, "query")
	}

	result := &core.RawResult{Columns: columns}
	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeExtraction, "failed to scan row").
				WithSystem(c.cfg.SystemID)
		}
		row := make(core.Row, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, c.classify(err, "query")
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// Call implements core.Connection; database connections do not speak REST.
func (c *Connection) Call(ctx context.Context, req *core.RestRequest) (*core.RawResult, error) {
	return nil, cmerrors.New(cmerrors.ErrorTypeValidation, "database connections do not support API calls").
		WithSystem(c.cfg.SystemID)
}

// Version implements core.Connection
func (c *Connection) Version() *core.VersionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// BindVersion implements core.Connection
func (c *Connection) BindVersion(info *core.VersionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = info
}

// buildDSN assembles the driver DSN. The secret is interpolated only into
// the in-memory DSN handed to the driver, never logged.
func (c *Connection) buildDSN(secret string) (dsn, driver string) {
	d := c.cfg.DirectDB

	switch d.Dialect {
	case config.DialectOracle:
		q := url.Values{}
		if d.EnableTLS {
			q.Set("SSL", "true")
			if d.TLSSkipVerify {
				q.Set("SSL VERIFY", "false")
			}
		}
		u := url.URL{
			Scheme:   "oracle",
			User:     url.UserPassword(d.Username, secret),
			Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:     d.ServiceName,
			RawQuery: q.Encode(),
		}
		return u.String(), "oracle"

	default: // sqlserver
		q := url.Values{}
		q.Set("database", d.Database)
		if d.EnableTLS {
			q.Set("encrypt", "true")
			if d.TLSSkipVerify {
				q.Set("trustservercertificate", "true")
			}
		} else {
			q.Set("encrypt", "disable")
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(d.Username, secret),
			Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
			RawQuery: q.Encode(),
		}
		return u.String(), "sqlserver"
	}
}

// classify maps driver errors onto the connector taxonomy. Authentication
// failures carry the credential ref, never the secret.
func (c *Connection) classify(err error, op string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return cmerrors.Wrap(err, cmerrors.ErrorTypeTimeout, op+" timed out").
			WithSystem(c.cfg.SystemID).WithOperation(op)
	case isAuthError(err):
		return cmerrors.Newf(cmerrors.ErrorTypeAuthentication,
			"credential %q was rejected by the backend; verify the stored secret and account status", c.cfg.CredentialRef).
			WithSystem(c.cfg.SystemID).WithOperation(op)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return cmerrors.Wrap(err, cmerrors.ErrorTypeTimeout, op+" timed out").
				WithSystem(c.cfg.SystemID).WithOperation(op)
		}
		return cmerrors.Wrap(err, cmerrors.ErrorTypeConnection, op+" failed").
			WithSystem(c.cfg.SystemID).WithOperation(op)
	}
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "login failed") || // mssql
		strings.Contains(msg, "login error") ||
		strings.Contains(msg, "ora-01017") // oracle invalid username/password
}

// normalize converts driver-specific scan values into plain Go types.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}
