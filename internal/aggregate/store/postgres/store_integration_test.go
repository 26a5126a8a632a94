//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dossier/internal/aggregate"
	"dossier/internal/aggregate/store/postgres"
	"dossier/internal/geo"
	"dossier/internal/peer"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
	"dossier/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg        *containers.PostgresContainer
	store     *postgres.Store
	ctx       context.Context
	subjectID id.SubjectID
	agentID   id.AgentID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.pg.Truncate(s.ctx))
	s.subjectID = id.SubjectID(uuid.New())
	s.agentID = id.AgentID(uuid.New())
}

func (s *PostgresStoreSuite) key(p string) aggregate.CommunicationKey {
	return aggregate.CommunicationKey{
		SubjectID: s.subjectID,
		AgentID:   s.agentID,
		Day:       "20240301",
		Kind:      "mail",
		Peer:      p,
		Direction: peer.DirectionOut,
		Sender:    "me@example.com",
	}
}

func (s *PostgresStoreSuite) TestIncrementCommunication() {
	b, wasNew, err := s.store.IncrementCommunication(s.ctx, s.key("alice@example.com"), 100)
	s.Require().NoError(err)
	s.True(wasNew)
	s.Equal(int64(1), b.Count)
	s.Equal("me@example.com", b.Sender)

	again, wasNew, err := s.store.IncrementCommunication(s.ctx, s.key("alice@example.com"), 50)
	s.Require().NoError(err)
	s.False(wasNew)
	s.Equal(b.ID, again.ID)
	s.Equal(int64(2), again.Count)
	s.Equal(int64(150), again.Size)
}

func (s *PostgresStoreSuite) TestCountersUnderConcurrency() {
	const workers, perWorker = 10, 20
	key := s.key("hot@example.com")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, wasNew, err := s.store.IncrementCommunication(s.ctx, key, 7)
				s.NoError(err)
				if wasNew {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(1, created)
	s.Equal(int64(workers*perWorker), got[0].Count)
	s.Equal(int64(workers*perWorker*7), got[0].Size)
}

func (s *PostgresStoreSuite) TestPositions() {
	key := aggregate.PositionKey{SubjectID: s.subjectID, AgentID: s.agentID, Day: "20240301", Lat: 45.515, Lon: 9.5873, Radius: 10}

	b, created, err := s.store.FindOrCreatePosition(s.ctx, key)
	s.Require().NoError(err)
	s.True(created)

	same, created, err := s.store.FindOrCreatePosition(s.ctx, key)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(b.ID, same.ID)

	start := time.Date(2024, 3, 1, 7, 37, 43, 0, time.UTC)
	tf := aggregate.Timeframe{Start: start, End: start.Add(3 * time.Minute)}
	wasNew, err := s.store.RecordTimeframe(s.ctx, b.ID, tf)
	s.Require().NoError(err)
	s.True(wasNew)
	wasNew, err = s.store.RecordTimeframe(s.ctx, b.ID, tf)
	s.Require().NoError(err)
	s.False(wasNew)

	found, err := s.store.FindPositions(s.ctx, s.subjectID, geo.BoxAround(b.Place(), 500))
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(int64(1), found[0].Count)
	s.Equal([]aggregate.Timeframe{tf}, found[0].Timeframes)

	_, err = s.store.RecordTimeframe(s.ctx, id.NewBucketID(), tf)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSummary() {
	s.Require().NoError(s.store.SummaryAdd(s.ctx, s.subjectID, "mail", "alice@example.com"))
	s.Require().NoError(s.store.SummaryAdd(s.ctx, s.subjectID, "mail", "alice@example.com"))

	ok, err := s.store.SummaryContains(s.ctx, s.subjectID, "mail", "alice@example.com")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.SummaryContains(s.ctx, s.subjectID, "sms", "alice@example.com")
	s.Require().NoError(err)
	s.False(ok)

	for _, p := range []string{"a@x.com", "b@x.com", "a@x.com"} {
		_, _, err := s.store.IncrementCommunication(s.ctx, s.key(p), 1)
		s.Require().NoError(err)
	}
	n, err := s.store.RebuildSummary(s.ctx, s.subjectID)
	s.Require().NoError(err)
	s.Equal(2, n)

	ok, err = s.store.SummaryContains(s.ctx, s.subjectID, "mail", "alice@example.com")
	s.Require().NoError(err)
	s.False(ok, "rebuild drops tokens without buckets")
}

func (s *PostgresStoreSuite) TestPositionerState() {
	_, err := s.store.LoadPositionerState(s.ctx, s.subjectID, s.agentID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.SavePositionerState(s.ctx, s.subjectID, s.agentID, []byte(`{"version":1}`)))
	s.Require().NoError(s.store.SavePositionerState(s.ctx, s.subjectID, s.agentID, []byte(`{"version":1,"stats":{}}`)))

	state, err := s.store.LoadPositionerState(s.ctx, s.subjectID, s.agentID)
	s.Require().NoError(err)
	s.Equal(`{"version":1,"stats":{}}`, string(state))
}

func (s *PostgresStoreSuite) TestQueryAndTx() {
	err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		for _, day := range []string{"20240228", "20240301"} {
			k := s.key("alice@example.com")
			k.Day = day
			if _, _, err := s.store.IncrementCommunication(ctx, k, 1); err != nil {
				return err
			}
		}
		_, _, err := s.store.FindOrCreatePosition(ctx, aggregate.PositionKey{SubjectID: s.subjectID, AgentID: s.agentID, Day: "20240301"})
		return err
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.SummaryAdd(s.ctx, s.subjectID, "mail", "alice@example.com"))

	comm, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{FromDay: "20240301"})
	s.Require().NoError(err)
	s.Len(comm, 1)

	kinds, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{Kinds: []string{"sms"}})
	s.Require().NoError(err)
	s.Empty(kinds)

	pos, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{Class: aggregate.ClassPosition})
	s.Require().NoError(err)
	s.Len(pos, 1)
}
