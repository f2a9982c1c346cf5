package extract

import (
	"context"

	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/models"
)

// defaultUserPageSize bounds how many users one backend round trip fetches.
const defaultUserPageSize = 200

// UserOptions controls a user extraction.
type UserOptions struct {
	// Fields to extract; empty means every field the release carries
	Fields []string
	// Filters constrain the result set
	Filters []core.Filter
	// StartOffset resumes iteration from a previous run's Offset
	StartOffset int
	// PageSize overrides the per-round-trip fetch size
	PageSize int
}

// Users returns a lazy, finite iterator over the system's users. Pages are
// fetched on demand; the iterator is restartable from any offset it has
// reported.
func (e *Extractor) Users(ctx context.Context, opts UserOptions) *UserIterator {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultUserPageSize
	}

	return &UserIterator{
		extractor: e,
		opts:      opts,
		pageSize:  pageSize,
		offset:    opts.StartOffset,
	}
}

// UserIterator yields unified users one page at a time. Not safe for
// concurrent use; each diagnostic caller should hold its own iterator.
type UserIterator struct {
	extractor *Extractor
	opts      UserOptions
	pageSize  int

	offset    int
	page      []*models.UnifiedUser
	pageIndex int
	exhausted bool
	err       error
}

// Next returns the next user, or (nil, nil) when the sequence is exhausted.
func (it *UserIterator) Next(ctx context.Context) (*models.UnifiedUser, error) {
	if it.err != nil {
		return nil, it.err
	}

	if it.pageIndex >= len(it.page) {
		if it.exhausted {
			return nil, nil
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return nil, err
		}
		if len(it.page) == 0 {
			return nil, nil
		}
	}

	user := it.page[it.pageIndex]
	it.pageIndex++
	it.offset++
	return user, nil
}

// Offset reports how many users have been yielded; feeding it back through
// UserOptions.StartOffset resumes a fresh iterator at the same position.
func (it *UserIterator) Offset() int {
	return it.offset
}

func (it *UserIterator) fetch(ctx context.Context) error {
	result, plan, err := it.extractor.run(ctx, core.ExtractionRequest{
		Entity:  core.EntityUser,
		Fields:  it.opts.Fields,
		Filters: it.opts.Filters,
		SortBy:  "uri",
		Offset:  it.offset,
		Limit:   it.pageSize,
	})
	if err != nil {
		return err
	}

	prov := provenance(it.extractor.systemID, "user-extractor", plan)
	it.page = make([]*models.UnifiedUser, 0, len(result.Rows))
	for _, row := range result.Rows {
		it.page = append(it.page, it.extractor.factory.User(row, prov))
	}
	it.pageIndex = 0

	if len(result.Rows) < it.pageSize {
		it.exhausted = true
	}
	return nil
}
