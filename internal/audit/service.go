package audit

import (
	"context"
	"fmt"
)

// TimelineStore is the read surface the timeline service depends on.
type TimelineStore interface {
	TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]Record, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	store TimelineStore
}

// NewService builds a timeline service.
func NewService(store TimelineStore) *Service {
	return &Service{store: store}
}

// Timeline fetches audit rows with paging. Page sizes clamp to [1, 50].
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.store.TimelineWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
