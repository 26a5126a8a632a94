// Package aggregate models the rolling per-subject buckets the engine
// maintains: communication counters, position visits, the summary index and
// persisted positioner state.
package aggregate

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"dossier/internal/geo"
	"dossier/internal/peer"
	id "dossier/pkg/domain"
)

// Reserved bucket kinds. Any other kind is a communication kind (skype, sms, mail, ...).
const (
	KindPosition   = "position"
	KindSummary    = "summary"
	KindPositioner = "positioner"
)

const (
	// DayLayout formats the per-day bucket partition.
	DayLayout = "20060102"
	// AllTimeDay marks subject-lifetime buckets (summary, positioner state).
	AllTimeDay = "0"
)

var (
	ErrSubjectRequired = errors.New("subject id is required")
	ErrKindRequired    = errors.New("kind is required")
	ErrPeerRequired    = errors.New("peer is required")
	ErrDayRequired     = errors.New("day is required")
	ErrReservedKind    = errors.New("kind is reserved")
	ErrInvalidInterval = errors.New("timeframe end must be after start")
)

// Day returns the bucket day for t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// IsReservedKind reports whether kind names a non-communication bucket.
func IsReservedKind(kind string) bool {
	switch kind {
	case KindPosition, KindSummary, KindPositioner:
		return true
	}
	return false
}

// Timeframe is one recorded dwell inside a position bucket.
type Timeframe struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeframe builds a UTC timeframe from a stay point.
func NewTimeframe(sp geo.StayPoint) Timeframe {
	return Timeframe{Start: sp.Start.UTC(), End: sp.End.UTC()}
}

// Validate checks the interval ordering.
func (t Timeframe) Validate() error {
	if !t.End.After(t.Start) {
		return ErrInvalidInterval
	}
	return nil
}

// Bucket is one aggregate row. Communication buckets carry Peer, Direction and
// Sender; position buckets carry the canonical coordinate and Timeframes.
type Bucket struct {
	ID        id.BucketID
	SubjectID id.SubjectID
	AgentID   id.AgentID
	Day       string
	Kind      string

	Peer      string
	Direction peer.Direction
	Sender    string

	Lat        float64
	Lon        float64
	Radius     float64
	Timeframes []Timeframe

	Count     int64
	Size      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPosition reports whether b is a position bucket.
func (b *Bucket) IsPosition() bool { return b.Kind == KindPosition }

// Place returns the canonical coordinate of a position bucket.
func (b *Bucket) Place() geo.Point {
	return geo.Point{Lat: b.Lat, Lon: b.Lon, Radius: b.Radius}
}

// CommunicationKey identifies a communication bucket.
type CommunicationKey struct {
	SubjectID id.SubjectID
	AgentID   id.AgentID
	Day       string
	Kind      string
	Peer      string
	Direction peer.Direction
	Sender    string
}

// CommunicationKeyFor builds the bucket key for a peer record observed at acquiredAt.
func CommunicationKeyFor(subjectID id.SubjectID, agentID id.AgentID, acquiredAt time.Time, rec peer.Record) CommunicationKey {
	return CommunicationKey{
		SubjectID: subjectID,
		AgentID:   agentID,
		Day:       Day(acquiredAt),
		Kind:      rec.Kind,
		Peer:      rec.Peer,
		Direction: rec.Direction,
		Sender:    rec.Sender,
	}
}

// Validate checks the required identity fields.
func (k CommunicationKey) Validate() error {
	switch {
	case k.SubjectID.IsNil():
		return ErrSubjectRequired
	case k.Day == "":
		return ErrDayRequired
	case k.Kind == "":
		return ErrKindRequired
	case IsReservedKind(k.Kind):
		return ErrReservedKind
	case k.Peer == "":
		return ErrPeerRequired
	}
	return nil
}

// IdentityHash is the store-side uniqueness key.
func (k CommunicationKey) IdentityHash() []byte {
	return identityHash(k.SubjectID.String(), k.AgentID.String(), k.Day, k.Kind,
		k.Peer, string(k.Direction), k.Sender)
}

// Bucket returns an empty bucket carrying the key fields.
func (k CommunicationKey) Bucket() Bucket {
	return Bucket{
		SubjectID: k.SubjectID,
		AgentID:   k.AgentID,
		Day:       k.Day,
		Kind:      k.Kind,
		Peer:      k.Peer,
		Direction: k.Direction,
		Sender:    k.Sender,
	}
}

// PositionKey identifies a position bucket by its canonical coordinate.
type PositionKey struct {
	SubjectID id.SubjectID
	AgentID   id.AgentID
	Day       string
	Lat       float64
	Lon       float64
	Radius    float64
}

// Validate checks the required identity fields.
func (k PositionKey) Validate() error {
	switch {
	case k.SubjectID.IsNil():
		return ErrSubjectRequired
	case k.Day == "":
		return ErrDayRequired
	}
	return nil
}

// IdentityHash is the store-side uniqueness key.
func (k PositionKey) IdentityHash() []byte {
	return identityHash(k.SubjectID.String(), k.AgentID.String(), k.Day, KindPosition,
		formatFloat(k.Lat), formatFloat(k.Lon), formatFloat(k.Radius))
}

// Bucket returns an empty bucket carrying the key fields.
func (k PositionKey) Bucket() Bucket {
	return Bucket{
		SubjectID: k.SubjectID,
		AgentID:   k.AgentID,
		Day:       k.Day,
		Kind:      KindPosition,
		Lat:       k.Lat,
		Lon:       k.Lon,
		Radius:    k.Radius,
	}
}

// NewPositionKey builds a key for the given canonical coordinate.
func NewPositionKey(subjectID id.SubjectID, agentID id.AgentID, day string, place geo.Point) PositionKey {
	return PositionKey{
		SubjectID: subjectID,
		AgentID:   agentID,
		Day:       day,
		Lat:       place.Lat,
		Lon:       place.Lon,
		Radius:    place.Radius,
	}
}

// SummaryIdentity is the uniqueness key of a subject's summary bucket.
func SummaryIdentity(subjectID id.SubjectID) []byte {
	return identityHash(subjectID.String(), "", AllTimeDay, KindSummary)
}

// PositionerIdentity is the uniqueness key of a positioner-state bucket.
func PositionerIdentity(subjectID id.SubjectID, agentID id.AgentID) []byte {
	return identityHash(subjectID.String(), agentID.String(), AllTimeDay, KindPositioner)
}

// ReservedKinds lists the non-communication kinds.
func ReservedKinds() []string {
	return []string{KindPosition, KindSummary, KindPositioner}
}

// Class selects which bucket family a query scans.
type Class int

const (
	ClassCommunication Class = iota
	ClassPosition
)

// Filter narrows Query results. FromDay and ToDay are inclusive and use
// DayLayout; empty bounds are open.
type Filter struct {
	Class   Class
	Kinds   []string
	FromDay string
	ToDay   string
}

// Matches reports whether b satisfies f.
func (f Filter) Matches(b *Bucket) bool {
	if b.Day == AllTimeDay {
		return false
	}
	switch f.Class {
	case ClassPosition:
		if b.Kind != KindPosition {
			return false
		}
	default:
		if IsReservedKind(b.Kind) {
			return false
		}
	}
	if len(f.Kinds) > 0 && !containsString(f.Kinds, b.Kind) {
		return false
	}
	if f.FromDay != "" && b.Day < f.FromDay {
		return false
	}
	if f.ToDay != "" && b.Day > f.ToDay {
		return false
	}
	return true
}

// DayRange converts a time window into inclusive Filter bounds. Zero times are open.
func DayRange(from, to time.Time) (string, string) {
	var fromDay, toDay string
	if !from.IsZero() {
		fromDay = Day(from)
	}
	if !to.IsZero() {
		toDay = Day(to)
	}
	return fromDay, toDay
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func identityHash(parts ...string) []byte {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return sum[:]
}
