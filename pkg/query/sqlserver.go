package query

import (
	"fmt"
	"strings"

	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// SQLServerBuilder generates T-SQL with @pN placeholders and
// OFFSET/FETCH pagination.
type SQLServerBuilder struct{}

// Dialect implements Builder
func (b *SQLServerBuilder) Dialect() config.Dialect {
	return config.DialectSQLServer
}

// Select implements Builder
func (b *SQLServerBuilder) Select(table string, req core.ExtractionRequest) (*core.Statement, error) {
	parts, err := makeParts(table, req)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(parts.filters)+2)
	n := 0
	next := func() string {
		n++
		return fmt.Sprintf("@p%d", n)
	}

	fmt.Fprintf(&sb, "SELECT %s FROM %s", fieldList(parts.fields), parts.table)

	if err := writeWhere(&sb, parts.filters, &args, next); err != nil {
		return nil, err
	}

	if parts.sortBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", parts.sortBy)
	}
	if parts.limit > 0 || parts.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %s ROWS", next())
		args = append(args, parts.offset)
		if parts.limit > 0 {
			fmt.Fprintf(&sb, " FETCH NEXT %s ROWS ONLY", next())
			args = append(args, parts.limit)
		}
	}

	return &core.Statement{SQL: sb.String(), Args: args}, nil
}
