// Package analytics answers the most-visited and most-contacted reports from
// the aggregate buckets. It runs out of band from the processors.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"dossier/internal/aggregate"
	id "dossier/pkg/domain"
)

const defaultResolveConcurrency = 8

// SortBy selects the metric most-contacted ranks by.
type SortBy string

const (
	SortByCount SortBy = "count"
	SortBySize  SortBy = "size"
)

var ErrInvalidSortBy = errors.New("sort by must be count or size")

// ParseSortBy validates a user supplied metric name.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(s) {
	case SortByCount, SortBySize:
		return SortBy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSortBy, s)
}

// Querier is the read side of the aggregate store.
type Querier interface {
	Query(ctx context.Context, subjectID id.SubjectID, filter aggregate.Filter) ([]*aggregate.Bucket, error)
}

// Place is one most-visited row.
type Place struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Radius  float64 `json:"radius"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// Contact is one most-contacted row. Name is empty when it could not be resolved.
type Contact struct {
	Peer    string  `json:"peer"`
	Kind    string  `json:"kind"`
	Count   int64   `json:"count"`
	Size    int64   `json:"size"`
	Percent float64 `json:"percent"`
	Name    string  `json:"name,omitempty"`
}

// ContactGroup holds the ranked contacts of one kind. Total is the sum of the
// sort metric over the whole partition, before truncation.
type ContactGroup struct {
	Kind     string    `json:"kind"`
	Total    int64     `json:"total"`
	Contacts []Contact `json:"contacts"`
}

// Service computes the reports.
type Service struct {
	store       Querier
	resolver    NameResolver
	concurrency int
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver enables name resolution for most-contacted.
func WithResolver(r NameResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithResolveConcurrency bounds parallel name lookups.
func WithResolveConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates the analytics service.
func New(store Querier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("aggregate store is required")
	}
	s := &Service{store: store, concurrency: defaultResolveConcurrency, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type placeKey struct {
	lat, lon, radius float64
}

// MostVisited ranks the places the subject stayed at between from and to
// (inclusive days, zero times are open). limit <= 0 returns every place.
func (s *Service) MostVisited(ctx context.Context, subjectID id.SubjectID, from, to time.Time, limit int) ([]Place, error) {
	fromDay, toDay := aggregate.DayRange(from, to)
	buckets, err := s.store.Query(ctx, subjectID, aggregate.Filter{Class: aggregate.ClassPosition, FromDay: fromDay, ToDay: toDay})
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}

	var (
		index  = make(map[placeKey]int)
		places []Place
		total  int64
	)
	for _, b := range buckets {
		key := placeKey{b.Lat, b.Lon, b.Radius}
		i, ok := index[key]
		if !ok {
			i = len(places)
			index[key] = i
			places = append(places, Place{Lat: b.Lat, Lon: b.Lon, Radius: b.Radius})
		}
		places[i].Count += b.Count
		total += b.Count
	}

	sort.SliceStable(places, func(i, j int) bool {
		if places[i].Count != places[j].Count {
			return places[i].Count > places[j].Count
		}
		if places[i].Lat != places[j].Lat {
			return places[i].Lat < places[j].Lat
		}
		return places[i].Lon < places[j].Lon
	})
	if limit > 0 && len(places) > limit {
		places = places[:limit]
	}
	for i := range places {
		places[i].Percent = roundTenth(percent(places[i].Count, total))
	}
	return places, nil
}

type contactKey struct {
	kind, peer string
}

// MostContacted ranks peers per kind by sortBy. Each kind keeps limit+1 rows
// (limit <= 0 keeps all). Percentages are relative to the kind's total and are
// not rounded.
func (s *Service) MostContacted(ctx context.Context, subjectID id.SubjectID, from, to time.Time, sortBy SortBy, limit int) ([]ContactGroup, error) {
	if _, err := ParseSortBy(string(sortBy)); err != nil {
		return nil, err
	}
	fromDay, toDay := aggregate.DayRange(from, to)
	buckets, err := s.store.Query(ctx, subjectID, aggregate.Filter{Class: aggregate.ClassCommunication, FromDay: fromDay, ToDay: toDay})
	if err != nil {
		return nil, fmt.Errorf("query communications: %w", err)
	}

	contacts := make(map[contactKey]*Contact)
	for _, b := range buckets {
		key := contactKey{b.Kind, b.Peer}
		c, ok := contacts[key]
		if !ok {
			c = &Contact{Peer: b.Peer, Kind: b.Kind}
			contacts[key] = c
		}
		c.Count += b.Count
		c.Size += b.Size
	}

	byKind := make(map[string][]Contact)
	for _, c := range contacts {
		byKind[c.Kind] = append(byKind[c.Kind], *c)
	}

	groups := make([]ContactGroup, 0, len(byKind))
	for kind, list := range byKind {
		metric := metricFor(sortBy)
		sort.Slice(list, func(i, j int) bool {
			if mi, mj := metric(list[i]), metric(list[j]); mi != mj {
				return mi > mj
			}
			return list[i].Peer < list[j].Peer
		})

		var total int64
		for _, c := range list {
			total += metric(c)
		}
		if limit > 0 && len(list) > limit+1 {
			list = list[:limit+1]
		}
		for i := range list {
			list[i].Percent = percent(metric(list[i]), total)
		}
		groups = append(groups, ContactGroup{Kind: kind, Total: total, Contacts: list})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Kind < groups[j].Kind })

	s.resolveNames(ctx, subjectID, groups)
	return groups, nil
}

// resolveNames fills Contact.Name in place. Failures only leave names empty.
func (s *Service) resolveNames(ctx context.Context, subjectID id.SubjectID, groups []ContactGroup) {
	if s.resolver == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for gi := range groups {
		for ci := range groups[gi].Contacts {
			c := &groups[gi].Contacts[ci]
			g.Go(func() error {
				name, ok, err := s.resolver.ResolveName(gctx, c.Kind, c.Peer, subjectID)
				if err != nil {
					s.logger.DebugContext(gctx, "name resolution failed",
						"subject_id", subjectID.String(), "kind", c.Kind, "error", err)
					return nil
				}
				if ok {
					c.Name = name
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

func metricFor(sortBy SortBy) func(Contact) int64 {
	if sortBy == SortBySize {
		return func(c Contact) int64 { return c.Size }
	}
	return func(c Contact) int64 { return c.Count }
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}

func roundTenth(f float64) float64 {
	return math.Round(f*10) / 10
}
