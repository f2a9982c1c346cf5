package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/adapter"
	"github.com/contentops/cmconnect/pkg/clients"
	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/connector/pool"
	"github.com/contentops/cmconnect/pkg/version"
)

// stubBackend emulates a 23.4 SQL Server backend: it answers the version
// probe and serves paginated user rows from an in-memory table.
type stubBackend struct {
	users      []core.Row
	system     core.Row
	queryCalls int
	failQuery  error
	version    *core.VersionInfo
}

func newStubBackend(userCount int) *stubBackend {
	users := make([]core.Row, 0, userCount)
	for i := 1; i <= userCount; i++ {
		users = append(users, core.Row{
			"uri":       int64(i),
			"loginName": fmt.Sprintf("user%03d", i),
			"active":    true,
		})
	}
	return &stubBackend{
		users: users,
		system: core.Row{
			"uri":            int64(1),
			"systemName":     "CM Test",
			"dbMajorVersion": "23",
			"edition":        "Enterprise",
		},
	}
}

func (s *stubBackend) ID() string                      { return "stub" }
func (s *stubBackend) SystemID() string                { return "cm-test" }
func (s *stubBackend) Protocol() core.Protocol         { return core.ProtocolDatabase }
func (s *stubBackend) Open(ctx context.Context) error  { return nil }
func (s *stubBackend) Close(ctx context.Context) error { return nil }
func (s *stubBackend) Ping(ctx context.Context) error  { return nil }

func (s *stubBackend) Call(ctx context.Context, req *core.RestRequest) (*core.RawResult, error) {
	return nil, cmerrors.New(cmerrors.ErrorTypeValidation, "not an API connection")
}

func (s *stubBackend) Query(ctx context.Context, stmt *core.Statement) (*core.RawResult, error) {
	if strings.Contains(stmt.SQL, "dbMajorVersion, dbMinorVersion") {
		return &core.RawResult{
			Rows: []core.Row{{"dbMajorVersion": "23", "dbMinorVersion": "4", "edition": "Enterprise"}},
		}, nil
	}

	s.queryCalls++
	if s.failQuery != nil {
		return nil, s.failQuery
	}

	if strings.Contains(stmt.SQL, "TSSYSTEMINFO") {
		return &core.RawResult{Rows: []core.Row{s.system}}, nil
	}

	if strings.Contains(stmt.SQL, "TSUSER") {
		offset, limit := 0, len(s.users)
		n := len(stmt.Args)
		if strings.Contains(stmt.SQL, "FETCH NEXT") {
			offset = stmt.Args[n-2].(int)
			limit = stmt.Args[n-1].(int)
		}
		end := offset + limit
		if offset > len(s.users) {
			offset = len(s.users)
		}
		if end > len(s.users) {
			end = len(s.users)
		}
		return &core.RawResult{Rows: s.users[offset:end]}, nil
	}

	return &core.RawResult{}, nil
}

func (s *stubBackend) Version() *core.VersionInfo         { return s.version }
func (s *stubBackend) BindVersion(info *core.VersionInfo) { s.version = info }

func newTestExtractor(t *testing.T, backend *stubBackend) (*Extractor, *clients.CircuitBreaker) {
	t.Helper()

	cfg := config.NewConnectionConfig("cm-test", config.TypeDirectDB)
	cfg.CredentialRef = "cm-test-db"
	cfg.DirectDB = &config.DirectDBConfig{
		Dialect:  config.DialectSQLServer,
		Host:     "db.internal",
		Port:     1433,
		Database: "ContentManager",
		Username: "reader",
	}

	log := zap.NewNop()
	p := pool.New("cm-test", config.PoolConfig{
		MaxSize:             2,
		AcquireTimeout:      time.Second,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
	}, func(ctx context.Context) (core.Connection, error) {
		return backend, nil
	}, log)
	t.Cleanup(p.Close)

	retry := &clients.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}
	breaker := clients.NewCircuitBreaker(clients.CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, log)
	detector := version.NewDetector(retry, log)

	return New(cfg, p, adapter.NewRegistry(log), detector, retry, breaker, log), breaker
}

func TestSystemExtraction(t *testing.T) {
	e, _ := newTestExtractor(t, newStubBackend(0))

	sys, err := e.System(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "CM Test", sys.SystemName)
	assert.Equal(t, "cm-test", sys.SourceSystemID)
	assert.Equal(t, "system-extractor", sys.Extractor)
	assert.False(t, sys.ReducedConfidence)
}

func TestUserIteratorPagesThrough(t *testing.T) {
	backend := newStubBackend(5)
	e, _ := newTestExtractor(t, backend)

	it := e.Users(context.Background(), UserOptions{PageSize: 2})

	var logins []string
	for {
		u, err := it.Next(context.Background())
		require.NoError(t, err)
		if u == nil {
			break
		}
		logins = append(logins, u.LoginName)
	}

	assert.Equal(t, []string{"user001", "user002", "user003", "user004", "user005"}, logins)
	assert.Equal(t, 5, it.Offset())
	assert.Equal(t, 3, backend.queryCalls, "five users at page size two is three fetches")

	// exhausted iterator stays exhausted
	u, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserIteratorIsLazy(t *testing.T) {
	backend := newStubBackend(10)
	e, _ := newTestExtractor(t, backend)

	it := e.Users(context.Background(), UserOptions{PageSize: 3})
	assert.Equal(t, 0, backend.queryCalls, "no fetch before the first Next")

	_, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.queryCalls)

	_, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.queryCalls, "second Next served from the buffered page")
}

func TestUserIteratorResumesFromOffset(t *testing.T) {
	backend := newStubBackend(5)
	e, _ := newTestExtractor(t, backend)

	it := e.Users(context.Background(), UserOptions{PageSize: 2, StartOffset: 3})

	u, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user004", u.LoginName)

	u, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user005", u.LoginName)

	u, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserIteratorSurfacesErrorWithResumePoint(t *testing.T) {
	backend := newStubBackend(6)
	e, _ := newTestExtractor(t, backend)

	it := e.Users(context.Background(), UserOptions{PageSize: 2})

	u, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user001", u.LoginName)
	u, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user002", u.LoginName)

	backend.failQuery = cmerrors.New(cmerrors.ErrorTypeAuthentication, "credential rejected")
	_, err = it.Next(context.Background())
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeAuthentication))

	resumeAt := it.Offset()
	assert.Equal(t, 2, resumeAt)

	// error is sticky on this iterator
	_, err = it.Next(context.Background())
	require.Error(t, err)

	// a fresh iterator resumes where the failed one stopped
	backend.failQuery = nil
	fresh := e.Users(context.Background(), UserOptions{PageSize: 2, StartOffset: resumeAt})
	u, err = fresh.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user003", u.LoginName)
}

func TestDroppedFieldsSurfaceAsAbsent(t *testing.T) {
	backend := newStubBackend(2)
	e, _ := newTestExtractor(t, backend)

	// mfaEnrolled ships in 25.1; the stub backend identifies as 23.4
	it := e.Users(context.Background(), UserOptions{
		Fields:   []string{"uri", "loginName", "mfaEnrolled"},
		PageSize: 10,
	})

	u, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mfaEnrolled"}, u.AbsentFields)
}

func TestFilterOnUnsupportedFieldFailsWithoutQuerying(t *testing.T) {
	backend := newStubBackend(2)
	e, _ := newTestExtractor(t, backend)

	_, err := e.Records(context.Background(),
		[]core.Filter{{Field: "retentionScore", Op: core.OpGt, Value: 5}}, []string{"uri"})
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeVersionMismatch))
	assert.Equal(t, 0, backend.queryCalls)
}

func TestOpenBreakerShortCircuitsExtraction(t *testing.T) {
	backend := newStubBackend(2)
	e, breaker := newTestExtractor(t, backend)

	for i := 0; i < 3; i++ {
		breaker.RecordFailure()
	}
	require.Equal(t, clients.StateOpen, breaker.State())

	_, err := e.Records(context.Background(), nil, []string{"uri"})
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeCircuitOpen))
	assert.Equal(t, 0, backend.queryCalls)
}

func TestRecordsExtraction(t *testing.T) {
	backend := newStubBackend(0)
	e, _ := newTestExtractor(t, backend)

	recs, err := e.Records(context.Background(), nil, []string{"uri", "recordNumber", "title"})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 1, backend.queryCalls)
}
