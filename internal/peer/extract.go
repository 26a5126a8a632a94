package peer

import (
	"regexp"
	"strings"

	"dossier/internal/evidence"
	pstrings "dossier/pkg/platform/strings"
)

// Reasons reported when extraction yields nothing.
const (
	ReasonUnsupportedKind = "unsupported evidence kind"
	ReasonDraft           = "mail draft"
	ReasonNoDirection     = "missing incoming flag"
	ReasonNoPeer          = "no resolvable peer"
	ReasonNoMessageType   = "missing message type"
)

const (
	messageTypeMail = "mail"
)

var angleAddress = regexp.MustCompile(`<\s*([^<>\s]+)\s*>`)

// Extract returns the peer records for ev. Malformed evidence yields nil.
func Extract(ev evidence.Evidence) []Record {
	records, _ := ExtractWithReason(ev)
	return records
}

// ExtractWithReason is Extract plus a short reason when no records are produced,
// so callers can log why a record was ignored.
func ExtractWithReason(ev evidence.Evidence) ([]Record, string) {
	p := ev.Payload
	if p == nil {
		p = evidence.Payload{}
	}

	switch ev.Kind {
	case evidence.KindCall:
		weight, _ := p.Int("duration")
		return build(p, programKind(p, ev.Kind), max(weight, 0), pstrings.SplitTrimLower)
	case evidence.KindChat:
		return build(p, programKind(p, ev.Kind), int64(len(p.String("content"))), pstrings.SplitTrimLower)
	case evidence.KindMessage:
		return extractMessage(p)
	default:
		return nil, ReasonUnsupportedKind
	}
}

func extractMessage(p evidence.Payload) ([]Record, string) {
	kind := strings.ToLower(strings.TrimSpace(p.String("type")))
	if kind == "" {
		return nil, ReasonNoMessageType
	}

	if kind != messageTypeMail {
		return build(p, kind, int64(len(p.String("content"))), pstrings.SplitTrimLower)
	}

	if draft, _ := p.Bool("draft"); draft {
		return nil, ReasonDraft
	}
	weight, ok := p.Int("size")
	if !ok {
		weight = int64(len(p.String("body")))
	}
	return build(p, kind, max(weight, 0), mailAddresses)
}

// build applies the legacy/new shape rules shared by every kind.
//
// split normalises and dedupes, so a peer repeated in one list ("a, A")
// yields a single record. Counting the same peer twice for one item would
// double its weight in the communication bucket.
//
// Legacy shape: a comma separated "peer" list whose direction comes from an
// optional "incoming" flag (Both when absent). New shape: "from"/"rcpt" selected
// by a mandatory "incoming" flag.
func build(p evidence.Payload, kind string, weight int64, split func(string, string) []string) ([]Record, string) {
	var (
		peers     []string
		direction Direction
		sender    string
	)

	incoming, hasFlag := p.Bool("incoming")
	if legacy := p.String("peer"); strings.TrimSpace(legacy) != "" {
		peers = split(legacy, ",")
		switch {
		case !hasFlag:
			direction = DirectionBoth
		case incoming:
			direction = DirectionIn
		default:
			direction = DirectionOut
		}
	} else {
		if !hasFlag {
			return nil, ReasonNoDirection
		}
		from := split(p.String("from"), ",")
		rcpt := split(p.String("rcpt"), ",")
		if incoming {
			direction = DirectionIn
			if len(from) > 0 {
				peers = from[:1]
			}
			sender = first(rcpt)
		} else {
			direction = DirectionOut
			peers = rcpt
			sender = first(from)
		}
	}

	if len(peers) == 0 {
		return nil, ReasonNoPeer
	}

	records := make([]Record, 0, len(peers))
	for _, peer := range peers {
		records = append(records, Record{
			Peer:      peer,
			Direction: direction,
			Kind:      kind,
			Weight:    weight,
			Sender:    sender,
		})
	}
	return records, ""
}

// programKind is the lowercased "program" (skype, whatsapp, ...) falling back
// to the evidence kind.
func programKind(p evidence.Payload, fallback evidence.Kind) string {
	if program := strings.ToLower(strings.TrimSpace(p.String("program"))); program != "" {
		return program
	}
	return string(fallback)
}

// mailAddresses splits an address list on commas outside quotes and takes the
// first <addr> match of each entry, falling back to the bare entry.
func mailAddresses(field, sep string) []string {
	parts := splitOutsideQuotes(field, sep)
	addrs := make([]string, 0, len(parts))
	for _, part := range parts {
		if m := angleAddress.FindStringSubmatch(part); m != nil {
			addrs = append(addrs, m[1])
			continue
		}
		if strings.Contains(part, `"`) {
			// display name only, no address
			continue
		}
		addrs = append(addrs, part)
	}
	return pstrings.DedupeAndTrimLower(addrs)
}

func splitOutsideQuotes(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var (
		parts   []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			inQuote = !inQuote
		case !inQuote && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
		}
	}
	return append(parts, s[start:])
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
