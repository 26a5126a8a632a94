package position

import (
	"encoding/json"
	"fmt"
	"time"

	"dossier/internal/geo"
	"dossier/pkg/platform/sentinel"
)

const stateVersion = 1

type snapshot struct {
	Version   int            `json:"version"`
	Window    []geo.Point    `json:"window"`
	Candidate *candidateJSON `json:"candidate,omitempty"`
	Last      *time.Time     `json:"last,omitempty"`
	Stats     Stats          `json:"stats"`
}

type candidateJSON struct {
	Best  geo.Point `json:"best"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Dump serialises the detector state. Tunables are not part of the blob; they
// come from configuration on every restore.
func (p *Positioner) Dump() ([]byte, error) {
	snap := snapshot{
		Version: stateVersion,
		Window:  p.window,
		Stats:   p.stats,
	}
	if p.candidate != nil {
		snap.Candidate = &candidateJSON{Best: p.candidate.best, Start: p.candidate.start, End: p.candidate.end}
	}
	if !p.last.IsZero() {
		last := p.last
		snap.Last = &last
	}
	return json.Marshal(snap)
}

// Restore replaces the detector state with a blob produced by Dump. On error
// the positioner is left unchanged.
func (p *Positioner) Restore(blob []byte) error {
	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode positioner state: %w: %v", sentinel.ErrInvalidState, err)
	}
	if snap.Version != stateVersion {
		return fmt.Errorf("positioner state version %d: %w", snap.Version, sentinel.ErrInvalidState)
	}
	if snap.Candidate == nil && len(snap.Window) > 0 {
		return fmt.Errorf("positioner window without candidate: %w", sentinel.ErrInvalidState)
	}

	p.candidate = nil
	if c := snap.Candidate; c != nil {
		p.candidate = &candidate{best: c.Best, start: c.Start, end: c.End}
	}
	p.window = snap.Window
	if over := len(p.window) - p.windowSize; over > 0 {
		p.window = p.window[over:]
	}
	p.last = time.Time{}
	if snap.Last != nil {
		p.last = *snap.Last
	}
	p.stats = snap.Stats
	return nil
}
