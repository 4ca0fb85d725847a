// Package statistics builds the read-only per-site and total counters.
package statistics

import (
	"context"

	"golang.org/x/sync/errgroup"

	"sitesearch/packages/domain"
	"sitesearch/packages/metrics"
)

// Activity reports whether an indexing command is still in flight.
type Activity interface {
	Running() bool
}

type Service struct {
	store    domain.Store
	activity Activity
}

// New builds the service. activity may be nil.
func New(store domain.Store, activity Activity) *Service {
	return &Service{store: store, activity: activity}
}

// Collect counts pages and lemmas for every stored site and refreshes the
// total gauges.
func (s *Service) Collect(ctx context.Context) (*domain.StatisticsResponse, error) {
	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	detailed := make([]domain.DetailedStatistics, len(sites))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, site := range sites {
		g.Go(func() error {
			pages, err := s.store.CountPages(gCtx, []int64{site.ID})
			if err != nil {
				return err
			}
			lemmas, err := s.store.CountLemmas(gCtx, site.ID)
			if err != nil {
				return err
			}
			detailed[i] = domain.DetailedStatistics{
				URL:        site.URL,
				Name:       site.Name,
				Status:     site.Status,
				StatusTime: domain.EpochMillis(site.StatusTime),
				Error:      site.LastError,
				Pages:      pages,
				Lemmas:     lemmas,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := domain.TotalStatistics{Sites: len(sites)}
	for _, d := range detailed {
		total.Pages += d.Pages
		total.Lemmas += d.Lemmas
		if d.Status == domain.Indexing {
			total.Indexing = true
		}
	}
	if s.activity != nil && s.activity.Running() {
		total.Indexing = true
	}

	metrics.TotalPages.Set(float64(total.Pages))
	metrics.TotalLemmas.Set(float64(total.Lemmas))

	return &domain.StatisticsResponse{
		Result:     true,
		Statistics: domain.StatisticsData{Total: total, Detailed: detailed},
	}, nil
}
