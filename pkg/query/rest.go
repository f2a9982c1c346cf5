package query

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// RestRequestBuilder translates extraction requests into structured REST API
// calls. Filters become q= expressions and pagination becomes start/pageSize
// query parameters; nothing is string-interpolated into the path.
type RestRequestBuilder struct{}

// List builds a GET request against the given endpoint for the request's
// fields, filters, and page window.
func (b *RestRequestBuilder) List(endpoint string, req core.ExtractionRequest) (*core.RestRequest, error) {
	q := url.Values{}

	for _, f := range req.Fields {
		if err := validIdent(f); err != nil {
			return nil, err
		}
	}
	if len(req.Fields) > 0 {
		q.Set("properties", joinComma(req.Fields))
	}

	for _, f := range req.Filters {
		if err := validIdent(f.Field); err != nil {
			return nil, err
		}
		expr, err := filterExpr(f)
		if err != nil {
			return nil, err
		}
		q.Add("q", expr)
	}

	if req.Offset > 0 {
		q.Set("start", strconv.Itoa(req.Offset))
	}
	if req.Limit > 0 {
		q.Set("pageSize", strconv.Itoa(req.Limit))
	}
	if req.SortBy != "" {
		if err := validIdent(req.SortBy); err != nil {
			return nil, err
		}
		q.Set("sortBy", req.SortBy)
	}

	return &core.RestRequest{
		Method: "GET",
		Path:   endpoint,
		Query:  q,
	}, nil
}

func filterExpr(f core.Filter) (string, error) {
	switch f.Op {
	case core.OpEq:
		return fmt.Sprintf("%s:%v", f.Field, f.Value), nil
	case core.OpNe:
		return fmt.Sprintf("not %s:%v", f.Field, f.Value), nil
	case core.OpGt:
		return fmt.Sprintf("%s>%v", f.Field, f.Value), nil
	case core.OpLt:
		return fmt.Sprintf("%s<%v", f.Field, f.Value), nil
	case core.OpLike:
		return fmt.Sprintf("%s~%v", f.Field, f.Value), nil
	case core.OpIn:
		values, ok := f.Value.([]interface{})
		if !ok || len(values) == 0 {
			return "", cmerrors.Newf(cmerrors.ErrorTypeValidation, "filter %s: in operator requires a non-empty value list", f.Field)
		}
		expr := f.Field + ":"
		for i, v := range values {
			if i > 0 {
				expr += ","
			}
			expr += fmt.Sprintf("%v", v)
		}
		return expr, nil
	default:
		return "", cmerrors.Newf(cmerrors.ErrorTypeValidation, "unknown filter operator %q", f.Op)
	}
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
