package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dossier/internal/aggregate"
	"dossier/internal/geo"
	"dossier/internal/peer"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	ctx       context.Context
	store     *Store
	subjectID id.SubjectID
	agentID   id.AgentID
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New()
	s.subjectID = id.SubjectID(uuid.New())
	s.agentID = id.AgentID(uuid.New())
}

func (s *StoreSuite) commKey(peerName string) aggregate.CommunicationKey {
	return aggregate.CommunicationKey{
		SubjectID: s.subjectID,
		AgentID:   s.agentID,
		Day:       "20240301",
		Kind:      "skype",
		Peer:      peerName,
		Direction: peer.DirectionOut,
	}
}

func (s *StoreSuite) TestIncrementCommunication() {
	s.Run("first call creates the bucket", func() {
		b, wasNew, err := s.store.IncrementCommunication(s.ctx, s.commKey("alice"), 30)
		s.Require().NoError(err)
		s.True(wasNew)
		s.Equal(int64(1), b.Count)
		s.Equal(int64(30), b.Size)
		s.False(b.ID.IsNil())
	})

	s.Run("later calls reuse it", func() {
		first, _, err := s.store.IncrementCommunication(s.ctx, s.commKey("bob"), 1)
		s.Require().NoError(err)
		second, wasNew, err := s.store.IncrementCommunication(s.ctx, s.commKey("bob"), 2)
		s.Require().NoError(err)
		s.False(wasNew)
		s.Equal(first.ID, second.ID)
		s.Equal(int64(2), second.Count)
		s.Equal(int64(3), second.Size)
	})

	s.Run("sender is part of the identity", func() {
		key := s.commKey("carol")
		a, _, err := s.store.IncrementCommunication(s.ctx, key, 1)
		s.Require().NoError(err)
		key.Sender = "work@example.com"
		b, wasNew, err := s.store.IncrementCommunication(s.ctx, key, 1)
		s.Require().NoError(err)
		s.True(wasNew)
		s.NotEqual(a.ID, b.ID)
	})

	s.Run("rejects invalid keys", func() {
		key := s.commKey("")
		_, _, err := s.store.IncrementCommunication(s.ctx, key, 1)
		s.ErrorIs(err, aggregate.ErrPeerRequired)

		key = s.commKey("dave")
		key.Kind = aggregate.KindSummary
		_, _, err = s.store.IncrementCommunication(s.ctx, key, 1)
		s.ErrorIs(err, aggregate.ErrReservedKind)
	})
}

func (s *StoreSuite) TestCountersUnderConcurrency() {
	const workers, perWorker = 8, 50
	key := s.commKey("hotline")

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
				_, wasNew, err := s.store.IncrementCommunication(s.ctx, key, 3)
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

	b, _, err := s.store.IncrementCommunication(s.ctx, key, 0)
	s.Require().NoError(err)
	s.Equal(1, created)
	s.Equal(int64(workers*perWorker+1), b.Count)
	s.Equal(int64(workers*perWorker*3), b.Size)
}

func (s *StoreSuite) TestSummary() {
	s.Run("add is idempotent", func() {
		s.Require().NoError(s.store.SummaryAdd(s.ctx, s.subjectID, "skype", "alice"))
		s.Require().NoError(s.store.SummaryAdd(s.ctx, s.subjectID, "skype", "alice"))

		ok, err := s.store.SummaryContains(s.ctx, s.subjectID, "skype", "alice")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal([]string{"skype_alice"}, s.store.SummaryTokens(s.subjectID))
	})

	s.Run("unknown pair is absent", func() {
		ok, err := s.store.SummaryContains(s.ctx, s.subjectID, "sms", "alice")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("rebuild replaces the index from communication buckets", func() {
		subjectID := id.SubjectID(uuid.New())
		s.Require().NoError(s.store.SummaryAdd(s.ctx, subjectID, "stale", "entry"))
		for _, p := range []string{"x", "y", "x"} {
			key := s.commKey(p)
			key.SubjectID = subjectID
			_, _, err := s.store.IncrementCommunication(s.ctx, key, 1)
			s.Require().NoError(err)
		}
		_, _, err := s.store.FindOrCreatePosition(s.ctx, aggregate.PositionKey{SubjectID: subjectID, Day: "20240301", Lat: 1, Lon: 1, Radius: 10})
		s.Require().NoError(err)

		n, err := s.store.RebuildSummary(s.ctx, subjectID)
		s.Require().NoError(err)
		s.Equal(2, n)
		s.Equal([]string{"skype_x", "skype_y"}, s.store.SummaryTokens(subjectID))
	})
}

func (s *StoreSuite) TestPositions() {
	key := aggregate.PositionKey{SubjectID: s.subjectID, AgentID: s.agentID, Day: "20240301", Lat: 45.515, Lon: 9.5873, Radius: 10}

	b, created, err := s.store.FindOrCreatePosition(s.ctx, key)
	s.Require().NoError(err)
	s.True(created)
	s.Zero(b.Count)

	again, created, err := s.store.FindOrCreatePosition(s.ctx, key)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(b.ID, again.ID)

	s.Run("timeframes have set semantics", func() {
		start := time.Date(2024, 3, 1, 7, 37, 43, 0, time.UTC)
		tf := aggregate.Timeframe{Start: start, End: start.Add(3 * time.Minute)}

		wasNew, err := s.store.RecordTimeframe(s.ctx, b.ID, tf)
		s.Require().NoError(err)
		s.True(wasNew)
		wasNew, err = s.store.RecordTimeframe(s.ctx, b.ID, tf)
		s.Require().NoError(err)
		s.False(wasNew)

		found, err := s.store.FindPositions(s.ctx, s.subjectID, geo.BoxAround(b.Place(), 100))
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(int64(1), found[0].Count)
		s.Equal([]aggregate.Timeframe{tf}, found[0].Timeframes)
	})

	s.Run("box excludes distant buckets", func() {
		found, err := s.store.FindPositions(s.ctx, s.subjectID, geo.BoxAround(geo.Point{Lat: 40, Lon: 9}, 1000))
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("unknown bucket", func() {
		_, err := s.store.RecordTimeframe(s.ctx, id.NewBucketID(), aggregate.Timeframe{})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestPositionerState() {
	_, err := s.store.LoadPositionerState(s.ctx, s.subjectID, s.agentID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.SavePositionerState(s.ctx, s.subjectID, s.agentID, []byte(`{"version":1}`)))
	state, err := s.store.LoadPositionerState(s.ctx, s.subjectID, s.agentID)
	s.Require().NoError(err)
	s.JSONEq(`{"version":1}`, string(state))

	_, err = s.store.LoadPositionerState(s.ctx, s.subjectID, id.AgentID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestQuery() {
	for _, day := range []string{"20240228", "20240301", "20240305"} {
		key := s.commKey("alice")
		key.Day = day
		_, _, err := s.store.IncrementCommunication(s.ctx, key, 1)
		s.Require().NoError(err)
	}
	smsKey := s.commKey("bob")
	smsKey.Kind = "sms"
	_, _, err := s.store.IncrementCommunication(s.ctx, smsKey, 1)
	s.Require().NoError(err)
	_, _, err = s.store.FindOrCreatePosition(s.ctx, aggregate.PositionKey{SubjectID: s.subjectID, Day: "20240301"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.SummaryAdd(s.ctx, s.subjectID, "skype", "alice"))

	s.Run("day window is inclusive", func() {
		got, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{FromDay: "20240301", ToDay: "20240305"})
		s.Require().NoError(err)
		s.Len(got, 3)
	})

	s.Run("kind filter", func() {
		got, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{Kinds: []string{"sms"}})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal("bob", got[0].Peer)
	})

	s.Run("position class", func() {
		got, err := s.store.Query(s.ctx, s.subjectID, aggregate.Filter{Class: aggregate.ClassPosition})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.True(got[0].IsPosition())
	})

	s.Run("other subjects are isolated", func() {
		got, err := s.store.Query(s.ctx, id.SubjectID(uuid.New()), aggregate.Filter{})
		s.Require().NoError(err)
		s.Empty(got)
	})
}
