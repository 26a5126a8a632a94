// Package peer turns one evidence record into normalised peer-communication
// records. Everything here is pure: no I/O, no logging, no panics.
package peer

// Direction of a communication relative to the monitored subject.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// Record is one normalised (peer, direction) observation. Weight is seconds for
// calls and content bytes for text. Sender is the subject-side account when the
// evidence names one.
type Record struct {
	Peer      string
	Direction Direction
	Kind      string
	Weight    int64
	Sender    string
}

// Token is the summary-index key for a (kind, peer) pair.
func Token(kind, peer string) string {
	return kind + "_" + peer
}
