package testutil

import "testing"

// Given, When and Then name nested subtests after the scenario step they
// describe, so `go test -run 'Given_a_kind/When_ranking'` selects one branch.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", desc, fn)
}

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(keyword+" "+desc, fn) {
		t.Logf("%s %s failed", keyword, desc)
	}
}
