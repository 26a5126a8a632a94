package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dossier/internal/aggregate"
	"dossier/internal/aggregate/store/memory"
	"dossier/internal/geo"
	id "dossier/pkg/domain"
)

type AggregatorSuite struct {
	suite.Suite
	ctx        context.Context
	store      *memory.Store
	aggregator *Aggregator
	subjectID  id.SubjectID
	agentID    id.AgentID
}

func TestAggregatorSuite(t *testing.T) {
	suite.Run(t, new(AggregatorSuite))
}

func (s *AggregatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	var err error
	s.aggregator, err = NewAggregator(s.store)
	s.Require().NoError(err)
	s.subjectID = id.SubjectID(uuid.New())
	s.agentID = id.AgentID(uuid.New())
}

func stay(lat, lon, radius float64, start time.Time, d time.Duration) geo.StayPoint {
	return geo.StayPoint{Lat: lat, Lon: lon, Radius: radius, Start: start, End: start.Add(d)}
}

func (s *AggregatorSuite) TestCreatesFromStayPoint() {
	sp := stay(45.515, 9.5873, 10, base, 15*time.Minute)

	b, created, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, sp, "20240301")
	s.Require().NoError(err)
	s.True(created)
	s.Equal(sp.Lat, b.Lat)
	s.Equal(sp.Lon, b.Lon)
	s.Equal(sp.Radius, b.Radius)
	s.Equal("20240301", b.Day)
}

func (s *AggregatorSuite) TestSameDayMerge() {
	first := stay(45.515, 9.5873, 10, base, 15*time.Minute)
	second := stay(45.51505, 9.5873, 10, base.Add(2*time.Hour), 20*time.Minute)

	a, _, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, first, "20240301")
	s.Require().NoError(err)
	_, err = s.store.RecordTimeframe(s.ctx, a.ID, aggregate.NewTimeframe(first))
	s.Require().NoError(err)

	b, created, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, second, "20240301")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(a.ID, b.ID)
	_, err = s.store.RecordTimeframe(s.ctx, b.ID, aggregate.NewTimeframe(second))
	s.Require().NoError(err)

	all, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{Class: aggregate.ClassPosition})
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(int64(2), all[0].Count)
}

func (s *AggregatorSuite) TestCrossDayCopiesCoordinate() {
	first := stay(45.515, 9.5873, 10, base, 15*time.Minute)
	nextDay := stay(45.51505, 9.58735, 8, base.Add(24*time.Hour), 15*time.Minute)

	a, _, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, first, "20240301")
	s.Require().NoError(err)
	b, created, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, nextDay, "20240302")
	s.Require().NoError(err)

	s.True(created)
	s.NotEqual(a.ID, b.ID)
	s.Equal("20240302", b.Day)
	s.Equal(a.Place(), b.Place())

	s.Run("a third visit joins the copied bucket", func() {
		c, created, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, nextDay, "20240302")
		s.Require().NoError(err)
		s.False(created)
		s.Equal(b.ID, c.ID)
	})
}

func (s *AggregatorSuite) TestDistantPlaceGetsItsOwnBucket() {
	a, _, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, stay(45.0, 9.0, 50, base, time.Hour), "20240301")
	s.Require().NoError(err)
	b, created, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, stay(45.01, 9.0, 50, base, time.Hour), "20240301")
	s.Require().NoError(err)
	s.True(created)
	s.NotEqual(a.ID, b.ID)
}

func (s *AggregatorSuite) TestOtherSubjectsAreIgnored() {
	sp := stay(45.0, 9.0, 50, base, time.Hour)
	a, _, err := s.aggregator.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, sp, "20240301")
	s.Require().NoError(err)
	b, created, err := s.aggregator.UpsertStayPoint(s.ctx, id.SubjectID(uuid.New()), s.agentID, sp, "20240301")
	s.Require().NoError(err)
	s.True(created)
	s.NotEqual(a.ID, b.ID)
}

type failingStore struct{}

func (failingStore) FindPositions(context.Context, id.SubjectID, geo.Box) ([]*aggregate.Bucket, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) FindOrCreatePosition(context.Context, aggregate.PositionKey) (*aggregate.Bucket, bool, error) {
	return nil, false, errors.New("connection reset")
}

func (s *AggregatorSuite) TestStoreErrorsPropagate() {
	agg, err := NewAggregator(failingStore{})
	s.Require().NoError(err)
	_, _, err = agg.UpsertStayPoint(s.ctx, s.subjectID, s.agentID, stay(45, 9, 10, base, time.Hour), "20240301")
	s.ErrorContains(err, "connection reset")
}

func (s *AggregatorSuite) TestRequiresStore() {
	_, err := NewAggregator(nil)
	s.Error(err)
}
