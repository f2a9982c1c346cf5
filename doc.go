// Package cmconnect provides a multi-version connector for Content Manager
// document management deployments, extracting system configuration, users,
// records, and document metadata across roughly fifteen product releases
// through a single unified API.
//
// A deployment is reached either directly through its database (SQL Server or
// Oracle) or through the product's REST ServiceAPI. The connector detects the
// installed release at runtime, resolves a version adapter that knows that
// release's schema, and normalizes everything it extracts into unified models
// carrying provenance.
//
// # Architecture
//
// The connector is assembled from independently testable layers:
//
//   - vault: AES-256-GCM credential storage with key rotation. Backends
//     receive decrypted secrets at handshake time only; errors carry the
//     credential reference, never the secret.
//   - query: parameterized query construction for the sqlserver and oracle
//     dialects plus REST request building. Values are never interpolated.
//   - clients: retry with exponential backoff and a per-system circuit
//     breaker around every backend call.
//   - pool: a bounded connection pool per target system with idle eviction
//     and health checking.
//   - version: probe-based release detection with cached results and a
//     reduced-confidence fallback when no signature matches.
//   - adapter: release-range to schema bindings; unsupported fields are
//     dropped and reported, never guessed.
//   - extract: the orchestration layer, including a lazy, offset-restartable
//     user iterator for large directories.
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/contentops/cmconnect/pkg/adapter"
//	    "github.com/contentops/cmconnect/pkg/config"
//	    "github.com/contentops/cmconnect/pkg/connector"
//	    "github.com/contentops/cmconnect/pkg/connector/pool"
//	    "github.com/contentops/cmconnect/pkg/extract"
//	)
//
//	factory := connector.NewFactory(pool.NewRegistry(log), adapter.NewRegistry(log), v, creds, log)
//	conn, err := factory.NewConnector(cfg)
//	if err != nil {
//	    return err
//	}
//	defer conn.Disconnect(context.Background())
//
//	info, err := conn.DetectVersion(ctx)
//	users, err := conn.ExtractUsers(ctx, extract.UserOptions{PageSize: 500})
//
// The cmconnect CLI under cmd/cmconnect wraps the same surface for
// operational use: release detection, health checks, and one-shot extraction.
package cmconnect
