package adapter

import "github.com/contentops/cmconnect/pkg/connector/core"

// entitySchema is the shape one release exposes for one entity: the backing
// table for database access, the REST endpoint (empty when the release does
// not serve the entity over the API), and the carried fields.
type entitySchema struct {
	table    string
	endpoint string
	fields   map[string]bool
}

type releaseSchema map[core.Entity]entitySchema

func fields(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func merge(base map[string]bool, extra ...string) map[string]bool {
	m := make(map[string]bool, len(base)+len(extra))
	for k := range base {
		m[k] = true
	}
	for _, n := range extra {
		m[n] = true
	}
	return m
}

// Field sets shared by every supported release. These are the conservative
// baseline the fallback adapter queries with.
var (
	baseSystemFields   = fields("uri", "systemName", "dbMajorVersion", "edition", "defaultStore")
	baseUserFields     = fields("uri", "loginName", "fullName", "userType", "active")
	baseRecordFields   = fields("uri", "recordNumber", "title", "createdDate", "ownerUri")
	baseDocumentFields = fields("uri", "title", "extension", "sizeBytes", "storeId")
)

// baseSchema is the lowest-common schema across the product family.
func baseSchema() releaseSchema {
	return releaseSchema{
		core.EntitySystem: {
			table:  "TSSYSTEMINFO",
			fields: baseSystemFields,
		},
		core.EntityUser: {
			table:  "TSUSER",
			fields: baseUserFields,
		},
		core.EntityRecord: {
			table:  "TSRECORD",
			fields: baseRecordFields,
		},
		core.EntityDocument: {
			table:  "TSDOCUMENT",
			fields: baseDocumentFields,
		},
	}
}

// schema94 covers 9.4 and 10.0: database access only, baseline fields.
func schema94() releaseSchema {
	return baseSchema()
}

// schema101 adds the first REST API surface.
func schema101() releaseSchema {
	s := baseSchema()
	s[core.EntitySystem] = entitySchema{
		table:    "TSSYSTEMINFO",
		endpoint: "/ServiceAPI/SystemInformation",
		fields:   baseSystemFields,
	}
	s[core.EntityUser] = entitySchema{
		table:    "TSUSER",
		endpoint: "/ServiceAPI/User",
		fields:   baseUserFields,
	}
	s[core.EntityRecord] = entitySchema{
		table:    "TSRECORD",
		endpoint: "/ServiceAPI/Record",
		fields:   baseRecordFields,
	}
	return s
}

// schema234 adds user directory attributes and record lifecycle columns.
func schema234() releaseSchema {
	s := schema101()
	s[core.EntityUser] = entitySchema{
		table:    "TSUSER",
		endpoint: "/ServiceAPI/User",
		fields:   merge(baseUserFields, "email", "lastLoginDate"),
	}
	s[core.EntityRecord] = entitySchema{
		table:    "TSRECORD",
		endpoint: "/ServiceAPI/Record",
		fields:   merge(baseRecordFields, "container", "disposition"),
	}
	s[core.EntityDocument] = entitySchema{
		table:    "TSDOCUMENT",
		endpoint: "/ServiceAPI/Document",
		fields:   baseDocumentFields,
	}
	return s
}

// schema251 adds identity federation and content integrity columns.
func schema251() releaseSchema {
	s := schema234()
	s[core.EntityUser] = entitySchema{
		table:    "TSUSER",
		endpoint: "/ServiceAPI/User",
		fields:   merge(s[core.EntityUser].fields, "mfaEnrolled", "externalId"),
	}
	s[core.EntityRecord] = entitySchema{
		table:    "TSRECORD",
		endpoint: "/ServiceAPI/Record",
		fields:   merge(s[core.EntityRecord].fields, "retentionScore"),
	}
	s[core.EntityDocument] = entitySchema{
		table:    "TSDOCUMENT",
		endpoint: "/ServiceAPI/Document",
		fields:   merge(baseDocumentFields, "contentHash"),
	}
	return s
}
