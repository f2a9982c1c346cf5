// Package version probes a live connection to identify the backend's release
// family and feature set.
//
// Detection is a small state machine: UNPROBED -> PROBING -> DETECTED or
// UNKNOWN. Probes run in order, newest release signatures first, until one
// matches. The detected VersionInfo is cached on the connection and treated
// as immutable until an explicit reconnect clears it.
package version

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/clients"
	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// State is the detector's position in the probe sequence.
type State int32

const (
	StateUnprobed State = iota
	StateProbing
	StateDetected
	StateUnknown
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUnprobed:
		return "unprobed"
	case StateProbing:
		return "probing"
	case StateDetected:
		return "detected"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Probe is one signature check against a live connection. Exactly one of
// Statement or Request is set, matching the protocol the probe applies to.
type Probe struct {
	Name      string
	Protocol  core.Protocol
	Statement *core.Statement
	Request   *core.RestRequest
	// Interpret inspects the probe output and returns the matched
	// VersionInfo, or nil when the output does not match a known signature.
	Interpret func(result *core.RawResult) *core.VersionInfo
}

// Detector runs the ordered probe sequence for one connection.
type Detector struct {
	probes []Probe
	retry  *clients.RetryPolicy
	logger *zap.Logger
	state  int32
}

// NewDetector creates a detector with the default signature probes.
func NewDetector(retry *clients.RetryPolicy, logger *zap.Logger) *Detector {
	return &Detector{
		probes: DefaultProbes(),
		retry:  retry,
		logger: logger.With(zap.String("component", "version_detector")),
	}
}

// State returns the detector's current state.
func (d *Detector) State() State {
	return State(atomic.LoadInt32(&d.state))
}

// Detect identifies the backend release for the given connection. The cached
// VersionInfo is returned when present; re-detection only happens after an
// explicit reconnect has cleared it.
//
// Retryable transport errors during a probe go through the retry policy
// before the probe counts as a non-match. Non-retryable errors abort
// detection and surface as-is, not as a version mismatch.
func (d *Detector) Detect(ctx context.Context, conn core.Connection) (*core.VersionInfo, error) {
	if cached := conn.Version(); cached != nil {
		atomic.StoreInt32(&d.state, int32(StateDetected))
		return cached, nil
	}

	atomic.StoreInt32(&d.state, int32(StateProbing))

	for _, probe := range d.probes {
		if probe.Protocol != conn.Protocol() {
			continue
		}

		result, err := d.run(ctx, conn, probe)
		if err != nil {
			if cmerrors.IsRetryable(err) {
				// Retries are exhausted; a backend that cannot answer
				// this probe does not carry its signature.
				d.logger.Debug("probe failed after retries, treating as non-match",
					zap.String("probe", probe.Name),
					zap.Error(err))
				continue
			}
			atomic.StoreInt32(&d.state, int32(StateUnprobed))
			return nil, err
		}

		if info := probe.Interpret(result); info != nil {
			info.Confidence = core.ConfidenceExact
			info.DetectedAt = time.Now()
			conn.BindVersion(info)
			atomic.StoreInt32(&d.state, int32(StateDetected))

			d.logger.Info("backend version detected",
				zap.String("probe", probe.Name),
				zap.String("version", info.Version),
				zap.String("edition", info.Edition))

			return info, nil
		}
	}

	info := Unknown()
	conn.BindVersion(info)
	atomic.StoreInt32(&d.state, int32(StateUnknown))

	d.logger.Warn("no version signature matched, using fallback",
		zap.String("system_id", conn.SystemID()))

	return info, nil
}

func (d *Detector) run(ctx context.Context, conn core.Connection, probe Probe) (*core.RawResult, error) {
	var result *core.RawResult

	err := d.retry.Execute(ctx, func() error {
		var err error
		switch probe.Protocol {
		case core.ProtocolDatabase:
			result, err = conn.Query(ctx, probe.Statement)
		default:
			result, err = conn.Call(ctx, probe.Request)
		}
		return err
	})

	return result, err
}

// Unknown returns the reduced-confidence VersionInfo bound when no signature
// matches. The fallback adapter derives its conservative behavior from it.
func Unknown() *core.VersionInfo {
	return &core.VersionInfo{
		Version:    "unknown",
		Edition:    "unknown",
		Features:   core.FeatureSet{},
		Confidence: core.ConfidenceReduced,
		DetectedAt: time.Now(),
	}
}
