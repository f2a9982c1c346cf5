// Package restapi implements the remote-API connection variant over the
// server's REST service interface.
package restapi

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/vault"
)

// pingPath is the lightweight capability endpoint used for liveness probes.
const pingPath = "/ServiceAPI"

// Connection is a single live REST session for one target system.
type Connection struct {
	id     string
	cfg    *config.ConnectionConfig
	vault  *vault.Vault
	store  *vault.Store
	logger *zap.Logger

	mu      sync.Mutex
	client  *http.Client
	baseURL *url.URL
	// authHeader is the session's Authorization value, derived from the
	// vault credential during Open; the decrypted secret itself is wiped.
	authHeader string
	open       bool
	version    *core.VersionInfo
}

// New creates an unopened REST connection. The pool opens it on first
// acquisition.
func New(cfg *config.ConnectionConfig, v *vault.Vault, store *vault.Store, logger *zap.Logger) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		cfg:    cfg,
		vault:  v,
		store:  store,
		logger: logger.With(zap.String("component", "rest_connection"), zap.String("system_id", cfg.SystemID)),
	}
}

// ID implements core.Connection
func (c *Connection) ID() string { return c.id }

// SystemID implements core.Connection
func (c *Connection) SystemID() string { return c.cfg.SystemID }

// Protocol implements core.Connection
func (c *Connection) Protocol() core.Protocol { return core.ProtocolRestAPI }

// Open builds the HTTP client, derives the session Authorization header from
// the vault credential, and verifies the endpoint answers.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return cmerrors.New(cmerrors.ErrorTypeValidation, "connection already open").WithSystem(c.cfg.SystemID)
	}

	base, err := url.Parse(c.cfg.RestAPI.BaseURL)
	if err != nil {
		return cmerrors.Wrap(err, cmerrors.ErrorTypeConfig, "invalid base URL").WithSystem(c.cfg.SystemID)
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

	// A "user:password" secret authenticates with Basic, anything else is
	// treated as a bearer token.
	if strings.Contains(string(secret), ":") {
		c.authHeader = "Basic " + base64.StdEncoding.EncodeToString(secret)
	} else {
		c.authHeader = "Bearer " + string(secret)
	}
	vault.Zero(secret)

	transport := &http.Transport{
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if c.cfg.RestAPI.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c.client = &http.Client{Transport: transport}
	c.baseURL = base

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Connect)
	defer cancel()

	if err := c.probe(pingCtx); err != nil {
		c.client = nil
		c.authHeader = ""
		return err
	}

	c.open = true
	c.version = nil

	c.logger.Debug("rest connection opened",
		zap.String("connection_id", c.id),
		zap.String("base_url", base.Redacted()))

	return nil
}

// Close implements core.Connection
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}

	c.open = false
	c.version = nil
	c.authHeader = ""
	c.client.CloseIdleConnections()
	c.client = nil
	return nil
}

// Ping implements core.Connection
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()

	if !open {
		return cmerrors.New(cmerrors.ErrorTypeConnection, "connection is closed").WithSystem(c.cfg.SystemID)
	}
	return c.probe(ctx)
}

// Query implements core.Connection; REST connections do not execute SQL.
func (c *Connection) Query(ctx context.Context, stmt *core.Statement) (*core.RawResult, error) {
	return nil, cmerrors.New(cmerrors.ErrorTypeValidation, "rest connections do not support SQL queries").
		WithSystem(c.cfg.SystemID)
}

// Call executes a structured request and decodes the JSON response into raw
// rows.
func (c *Connection) Call(ctx context.Context, req *core.RestRequest) (*core.RawResult, error) {
	c.mu.Lock()
	open := c.open
	client := c.client
	c.mu.Unlock()

	if !open {
		return nil, cmerrors.New(cmerrors.ErrorTypeConnection, "connection is closed").WithSystem(c.cfg.SystemID)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Query)
	defer cancel()

	httpReq, err := c.buildRequest(callCtx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, c.classify(err, req.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeAuthentication,
			"credential %q was rejected by the backend; verify the stored secret and account status", c.cfg.CredentialRef).
			WithSystem(c.cfg.SystemID).WithDetail("status", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, cmerrors.Newf(cmerrors.ErrorTypeConnection, "endpoint %s returned status %d", req.Path, resp.StatusCode).
			WithSystem(c.cfg.SystemID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(err, req.Path)
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeExtraction, "failed to decode response body").
			WithSystem(c.cfg.SystemID).WithDetail("path", req.Path)
	}

	return &core.RawResult{
		Columns: columnsOf(rows),
		Rows:    rows,
		Elapsed: time.Since(start),
	}, nil
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

func (c *Connection) buildRequest(ctx context.Context, req *core.RestRequest) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + req.Path
	u.RawQuery = req.Query.Encode()

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeValidation, "failed to encode request body").
				WithSystem(c.cfg.SystemID)
		}
		body = strings.NewReader(string(data))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, cmerrors.Wrap(err, cmerrors.ErrorTypeValidation, "failed to build request").
			WithSystem(c.cfg.SystemID)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", c.authHeader)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.RestAPI.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

func (c *Connection) probe(ctx context.Context) error {
	req, err := c.buildRequest(ctx, &core.RestRequest{Method: http.MethodGet, Path: pingPath})
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.classify(err, pingPath)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return cmerrors.Newf(cmerrors.ErrorTypeAuthentication,
			"credential %q was rejected by the backend; verify the stored secret and account status", c.cfg.CredentialRef).
			WithSystem(c.cfg.SystemID)
	}
	if resp.StatusCode >= 500 {
		return cmerrors.Newf(cmerrors.ErrorTypeConnection, "probe returned status %d", resp.StatusCode).
			WithSystem(c.cfg.SystemID)
	}
	return nil
}

func (c *Connection) classify(err error, path string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return cmerrors.Wrap(err, cmerrors.ErrorTypeTimeout, "call to "+path+" timed out").
			WithSystem(c.cfg.SystemID)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return cmerrors.Wrap(err, cmerrors.ErrorTypeTimeout, "call to "+path+" timed out").
				WithSystem(c.cfg.SystemID)
		}
		return cmerrors.Wrap(err, cmerrors.ErrorTypeConnection, "call to "+path+" failed").
			WithSystem(c.cfg.SystemID)
	}
}

// decodeRows accepts either a bare JSON array, an object with a Results
// array (list endpoints), or a single object (detail endpoints).
func decodeRows(body []byte) ([]core.Row, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var rows []core.Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var envelope struct {
		Results []core.Row `json:"Results"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Results != nil {
		return envelope.Results, nil
	}

	var row core.Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}
	return []core.Row{row}, nil
}

func columnsOf(rows []core.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	return cols
}
