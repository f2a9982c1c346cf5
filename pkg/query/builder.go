// Package query generates dialect-specific, parameterized statements from
// version-agnostic extraction requests.
//
// Builder output is always a statement plus a bound-parameter list; user
// input never reaches the SQL text itself. Identifier names (tables, columns)
// come from version adapters, not callers, and are still validated against a
// strict pattern as a second line of defense.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// Builder translates an extraction request against a concrete table into a
// parameterized statement for one SQL dialect.
type Builder interface {
	Dialect() config.Dialect
	Select(table string, req core.ExtractionRequest) (*core.Statement, error)
}

// NewBuilder returns the builder for the given dialect.
func NewBuilder(dialect config.Dialect) (Builder, error) {
	switch dialect {
	case config.DialectSQLServer:
		return &SQLServerBuilder{}, nil
	case config.DialectOracle:
		return &OracleBuilder{}, nil
	default:
		return nil, cmerrors.Newf(cmerrors.ErrorTypeConfig, "no query builder for dialect %q", dialect)
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$#]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return cmerrors.Newf(cmerrors.ErrorTypeValidation, "invalid identifier %q", name)
	}
	return nil
}

// selectParts is the dialect-independent skeleton of a SELECT. Each dialect
// assembles it with its own quoting, placeholder style, and pagination syntax.
type selectParts struct {
	table   string
	fields  []string
	filters []core.Filter
	sortBy  string
	offset  int
	limit   int
}

func makeParts(table string, req core.ExtractionRequest) (*selectParts, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	for _, f := range req.Fields {
		if err := validIdent(f); err != nil {
			return nil, err
		}
	}
	for _, f := range req.Filters {
		if err := validIdent(f.Field); err != nil {
			return nil, err
		}
	}

	sortBy := req.SortBy
	if sortBy == "" && len(req.Fields) > 0 {
		sortBy = req.Fields[0]
	}
	if sortBy != "" {
		if err := validIdent(sortBy); err != nil {
			return nil, err
		}
	}
	if (req.Limit > 0 || req.Offset > 0) && sortBy == "" {
		return nil, cmerrors.New(cmerrors.ErrorTypeValidation, "paginated extraction requires a sort column")
	}

	return &selectParts{
		table:   table,
		fields:  req.Fields,
		filters: req.Filters,
		sortBy:  sortBy,
		offset:  req.Offset,
		limit:   req.Limit,
	}, nil
}

// writeWhere renders the filter list with dialect placeholders supplied by
// nextPlaceholder, appending bound values to args.
func writeWhere(sb *strings.Builder, filters []core.Filter, args *[]interface{}, nextPlaceholder func() string) error {
	if len(filters) == 0 {
		return nil
	}

	sb.WriteString(" WHERE ")
	for i, f := range filters {
		if i > 0 {
			sb.WriteString(" AND ")
		}

		switch f.Op {
		case core.OpEq:
			fmt.Fprintf(sb, "%s = %s", f.Field, nextPlaceholder())
			*args = append(*args, f.Value)
		case core.OpNe:
			fmt.Fprintf(sb, "%s <> %s", f.Field, nextPlaceholder())
			*args = append(*args, f.Value)
		case core.OpGt:
			fmt.Fprintf(sb, "%s > %s", f.Field, nextPlaceholder())
			*args = append(*args, f.Value)
		case core.OpLt:
			fmt.Fprintf(sb, "%s < %s", f.Field, nextPlaceholder())
			*args = append(*args, f.Value)
		case core.OpLike:
			fmt.Fprintf(sb, "%s LIKE %s", f.Field, nextPlaceholder())
			*args = append(*args, f.Value)
		case core.OpIn:
			values, ok := f.Value.([]interface{})
			if !ok || len(values) == 0 {
				return cmerrors.Newf(cmerrors.ErrorTypeValidation, "filter %s: in operator requires a non-empty value list", f.Field)
			}
			placeholders := make([]string, len(values))
			for j, v := range values {
				placeholders[j] = nextPlaceholder()
				*args = append(*args, v)
			}
			fmt.Fprintf(sb, "%s IN (%s)", f.Field, strings.Join(placeholders, ", "))
		default:
			return cmerrors.Newf(cmerrors.ErrorTypeValidation, "unknown filter operator %q", f.Op)
		}
	}

	return nil
}

func fieldList(fields []string) string {
	if len(fields) == 0 {
		return "*"
	}
	return strings.Join(fields, ", ")
}
