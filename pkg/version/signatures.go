package version

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/contentops/cmconnect/pkg/connector/core"
)

// Feature flag names used across adapters and extractors.
const (
	FeatureRestAPI       = "rest-api"
	FeatureRecordsModule = "records-module"
	FeatureDocumentStore = "document-store"
	FeatureAuditEvents   = "audit-events"
)

// family describes one supported release family and what it ships with.
type family struct {
	version  string
	features core.FeatureSet
}

// families is ordered newest first; prefix matching against probe output
// picks the first entry whose version the backend reports.
var families = []family{
	{"25.1", core.FeatureSet{FeatureRestAPI: true, FeatureRecordsModule: true, FeatureDocumentStore: true, FeatureAuditEvents: true}},
	{"24.4", core.FeatureSet{FeatureRestAPI: true, FeatureRecordsModule: true, FeatureDocumentStore: true, FeatureAuditEvents: true}},
	{"23.4", core.FeatureSet{FeatureRestAPI: true, FeatureRecordsModule: true, FeatureDocumentStore: true}},
	{"10.1", core.FeatureSet{FeatureRestAPI: true, FeatureRecordsModule: true}},
	{"10.0", core.FeatureSet{FeatureRecordsModule: true}},
	{"9.4", core.FeatureSet{FeatureRecordsModule: true}},
}

// resolveFamily maps a reported version string onto a known release family.
func resolveFamily(reported, edition string) *core.VersionInfo {
	reported = strings.TrimSpace(reported)
	if reported == "" {
		return nil
	}

	for _, f := range families {
		if strings.HasPrefix(reported, f.version) {
			features := make(core.FeatureSet, len(f.features))
			for k, v := range f.features {
				features[k] = v
			}
			return &core.VersionInfo{
				Version:  f.version,
				Edition:  edition,
				Features: features,
			}
		}
	}
	return nil
}

// DefaultProbes returns the ordered signature probe sequence: the modern
// system-information table first, the legacy properties table for older
// schemas, and the capability endpoint for API connections.
func DefaultProbes() []Probe {
	return []Probe{
		{
			Name:     "db-system-info",
			Protocol: core.ProtocolDatabase,
			Statement: &core.Statement{
				SQL: "SELECT dbMajorVersion, dbMinorVersion, edition FROM TSSYSTEMINFO",
			},
			Interpret: interpretSystemInfo,
		},
		{
			Name:     "db-legacy-props",
			Protocol: core.ProtocolDatabase,
			Statement: &core.Statement{
				SQL: "SELECT propName, propValue FROM TSDBPROPS WHERE propName = 'schemaVersion'",
			},
			Interpret: interpretLegacyProps,
		},
		{
			Name:     "api-system-information",
			Protocol: core.ProtocolRestAPI,
			Request: &core.RestRequest{
				Method: http.MethodGet,
				Path:   "/ServiceAPI/SystemInformation",
			},
			Interpret: interpretSystemInformation,
		},
	}
}

func interpretSystemInfo(result *core.RawResult) *core.VersionInfo {
	if result == nil || len(result.Rows) == 0 {
		return nil
	}

	row := result.Rows[0]
	major := asString(row["dbMajorVersion"])
	minor := asString(row["dbMinorVersion"])
	if major == "" {
		return nil
	}

	reported := major
	if minor != "" {
		reported = major + "." + minor
	}
	return resolveFamily(reported, asString(row["edition"]))
}

func interpretLegacyProps(result *core.RawResult) *core.VersionInfo {
	if result == nil || len(result.Rows) == 0 {
		return nil
	}
	return resolveFamily(asString(result.Rows[0]["propValue"]), "")
}

func interpretSystemInformation(result *core.RawResult) *core.VersionInfo {
	if result == nil || len(result.Rows) == 0 {
		return nil
	}
	row := result.Rows[0]
	return resolveFamily(asString(row["Version"]), asString(row["Edition"]))
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
