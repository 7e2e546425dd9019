package audit

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// DefaultRetention is the horizon past which the cleanup job deletes
	// events, roughly one year.
	DefaultRetention = 365 * 24 * time.Hour
)

// Service coordinates audit log retrieval and retention.
type Service struct {
	sink Sink
}

// NewService builds the audit service.
func NewService(sink Sink) *Service {
	return &Service{sink: sink}
}

// Browse returns one page of events with paging info derived from the
// limit-plus-one fetch.
func (s *Service) Browse(ctx context.Context, filters Filters) (Result, error) {
	if s.sink == nil {
		return Result{}, fmt.Errorf("audit: sink not configured")
	}
	if filters.PageSize <= 0 {
		filters.PageSize = defaultPageSize
	}
	if filters.PageSize > maxPageSize {
		filters.PageSize = maxPageSize
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	events, err := s.sink.Query(ctx, filters)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(events) > filters.PageSize
	if hasNext {
		events = events[:filters.PageSize]
	}
	return Result{Events: events, Page: filters.Page, HasNext: hasNext}, nil
}

// Export fetches every event matching filters, paging internally.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Event, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("audit: sink not configured")
	}
	filters.Page = 1
	filters.PageSize = maxPageSize
	var all []Event
	for {
		events, err := s.sink.Query(ctx, filters)
		if err != nil {
			return nil, err
		}
		if len(events) > filters.PageSize {
			all = append(all, events[:filters.PageSize]...)
			filters.Page++
			continue
		}
		all = append(all, events...)
		return all, nil
	}
}

// Stats aggregates activity over the window, defaulting to thirty days.
func (s *Service) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	if s.sink == nil {
		return Stats{}, fmt.Errorf("audit: sink not configured")
	}
	return s.sink.Stats(ctx, window)
}

// RunRetention purges events older than horizon. The purge itself is
// audited by the sink in the same transaction as the delete.
func (s *Service) RunRetention(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error) {
	if s.sink == nil {
		return 0, fmt.Errorf("audit: sink not configured")
	}
	if horizon <= 0 {
		horizon = DefaultRetention
	}
	return s.sink.PurgeOlderThan(ctx, horizon, actorID)
}
