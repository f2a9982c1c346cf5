package adapter

import (
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/connector/core"
)

// Range is an inclusive version interval. An empty Max leaves the interval
// open-ended upward.
type Range struct {
	Min string
	Max string
}

// Contains reports whether the version falls inside the range.
func (r Range) Contains(version string) bool {
	if compareVersions(version, r.Min) < 0 {
		return false
	}
	if r.Max != "" && compareVersions(version, r.Max) > 0 {
		return false
	}
	return true
}

// Binding maps a version range to an adapter instance. Bindings are resolved
// once per detected version and never mutated afterward.
type Binding struct {
	Range   Range
	Adapter Adapter
}

// Registry is the flat version-to-adapter lookup. Adding support for a new
// release is one Register call, not a change to existing adapters.
type Registry struct {
	mu       sync.RWMutex
	bindings []Binding
	fallback Adapter
	logger   *zap.Logger
}

// NewRegistry creates a registry pre-populated with the default release
// bindings and the fallback adapter.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		fallback: Fallback(),
		logger:   logger.With(zap.String("component", "adapter_registry")),
	}

	r.Register(Range{Min: "9.4", Max: "9.4"}, newRelease("9.4", schema94()))
	r.Register(Range{Min: "10.0", Max: "10.0"}, newRelease("10.0", schema94()))
	r.Register(Range{Min: "10.1", Max: "10.1"}, newRelease("10.1", schema101()))
	r.Register(Range{Min: "23.4", Max: "24.4"}, newRelease("23.4", schema234()))
	r.Register(Range{Min: "25.1"}, newRelease("25.1", schema251()))

	return r
}

// Register appends a binding. Earlier bindings win when ranges overlap.
func (r *Registry) Register(versions Range, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, Binding{Range: versions, Adapter: a})
}

// Resolve picks the adapter for a detected version. Unknown or unmatched
// versions get the fallback.
func (r *Registry) Resolve(info *core.VersionInfo) Adapter {
	if info == nil || info.Confidence == core.ConfidenceReduced {
		return r.fallback
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if b.Range.Contains(info.Version) {
			return b.Adapter
		}
	}

	r.logger.Warn("no adapter binding for detected version, using fallback",
		zap.String("version", info.Version))
	return r.fallback
}

// newRelease builds the adapter for one known release family.
func newRelease(release string, schema releaseSchema) Adapter {
	return &releaseAdapter{
		release:    release,
		schema:     schema,
		confidence: core.ConfidenceExact,
	}
}

// Fallback returns the unknown-version adapter: lowest-common schema,
// broadest compatible queries, reduced-confidence provenance.
func Fallback() Adapter {
	return &releaseAdapter{
		release:    "unknown",
		schema:     baseSchema(),
		confidence: core.ConfidenceReduced,
	}
}

// compareVersions orders dotted numeric versions segment by segment.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
