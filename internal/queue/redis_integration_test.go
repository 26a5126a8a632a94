//go:build integration

package queue_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dossier/internal/queue"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
	"dossier/pkg/testutil/containers"
)

type RedisQueueSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	queue *queue.RedisQueue
}

func TestRedisQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisQueueSuite))
}

func (s *RedisQueueSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.queue = queue.NewRedis(s.redis.Client, queue.WithKey("test:queue"))
}

func (s *RedisQueueSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisQueueSuite) TestFIFO() {
	ctx := context.Background()
	var entries []queue.Entry
	for i := 0; i < 3; i++ {
		e := queue.Entry{SubjectID: id.SubjectID(uuid.New()), EvidenceID: id.EvidenceID(uuid.New())}
		entries = append(entries, e)
		s.Require().NoError(s.queue.Enqueue(ctx, e))
	}

	for _, want := range entries {
		got, ok, err := s.queue.Dequeue(ctx)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(want, got)
	}
	_, ok, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisQueueSuite) TestEachEntryHandedOutOnce() {
	ctx := context.Background()
	const total = 200
	for i := 0; i < total; i++ {
		s.Require().NoError(s.queue.Enqueue(ctx, queue.Entry{SubjectID: id.SubjectID(uuid.New()), EvidenceID: id.EvidenceID(uuid.New())}))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[id.EvidenceID]int)
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, ok, err := s.queue.Dequeue(ctx)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[e.EvidenceID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, total)
	for _, n := range seen {
		s.Equal(1, n)
	}
}

func (s *RedisQueueSuite) TestMalformedEntryIsConsumed() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.LPush(ctx, "test:queue", "garbage").Err())

	_, _, err := s.queue.Dequeue(ctx)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	n, err := s.queue.Len(ctx)
	s.Require().NoError(err)
	s.Zero(n)
}
