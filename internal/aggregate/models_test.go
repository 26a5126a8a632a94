package aggregate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"dossier/internal/peer"
	id "dossier/pkg/domain"
)

func TestCommunicationKey(t *testing.T) {
	subjectID := id.SubjectID(uuid.New())
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	key := CommunicationKeyFor(subjectID, id.AgentID(uuid.New()), at, peer.Record{
		Peer: "alice", Direction: peer.DirectionIn, Kind: "skype", Sender: "me",
	})

	t.Run("day is taken in UTC", func(t *testing.T) {
		assert.Equal(t, "20240301", key.Day)
	})

	t.Run("identity hash is stable and field sensitive", func(t *testing.T) {
		assert.Len(t, key.IdentityHash(), 32)
		assert.Equal(t, key.IdentityHash(), key.IdentityHash())

		other := key
		other.Direction = peer.DirectionOut
		assert.NotEqual(t, key.IdentityHash(), other.IdentityHash())

		// field boundaries are separated, "ab"+"c" differs from "a"+"bc"
		a, b := key, key
		a.Peer, a.Sender = "ab", "c"
		b.Peer, b.Sender = "a", "bc"
		assert.NotEqual(t, a.IdentityHash(), b.IdentityHash())
	})

	t.Run("validation", func(t *testing.T) {
		assert.NoError(t, key.Validate())

		missingPeer := key
		missingPeer.Peer = ""
		assert.ErrorIs(t, missingPeer.Validate(), ErrPeerRequired)

		reserved := key
		reserved.Kind = KindPosition
		assert.ErrorIs(t, reserved.Validate(), ErrReservedKind)

		assert.ErrorIs(t, CommunicationKey{}.Validate(), ErrSubjectRequired)
	})
}

func TestFilterMatches(t *testing.T) {
	comm := &Bucket{Kind: "sms", Day: "20240302"}
	pos := &Bucket{Kind: KindPosition, Day: "20240302"}
	summary := &Bucket{Kind: KindSummary, Day: AllTimeDay}

	tests := []struct {
		name   string
		filter Filter
		bucket *Bucket
		want   bool
	}{
		{"communication class", Filter{}, comm, true},
		{"communication class skips positions", Filter{}, pos, false},
		{"summary never matches", Filter{}, summary, false},
		{"position class", Filter{Class: ClassPosition}, pos, true},
		{"kind filter", Filter{Kinds: []string{"mail"}}, comm, false},
		{"inclusive bounds", Filter{FromDay: "20240302", ToDay: "20240302"}, comm, true},
		{"before window", Filter{FromDay: "20240303"}, comm, false},
		{"after window", Filter{ToDay: "20240301"}, comm, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.bucket))
		})
	}
}

func TestDayRange(t *testing.T) {
	from, to := DayRange(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Time{})
	assert.Equal(t, "20240102", from)
	assert.Empty(t, to)
}

func TestTimeframeValidate(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Timeframe{Start: start, End: start.Add(time.Second)}.Validate())
	assert.ErrorIs(t, Timeframe{Start: start, End: start}.Validate(), ErrInvalidInterval)
}
