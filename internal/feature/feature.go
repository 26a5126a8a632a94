// Package feature answers capability checks consulted before optional work.
package feature

import "strings"

// Correlation enables the position path and downstream correlation.
const Correlation = "correlation"

// Gate reports whether a feature is licensed and enabled.
type Gate interface {
	IsEnabled(feature string) bool
}

// Static is a Gate fixed at startup from configuration.
type Static map[string]struct{}

// NewStatic enables the listed features. Names are case-insensitive.
func NewStatic(features ...string) Static {
	s := make(Static, len(features))
	for _, f := range features {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			s[f] = struct{}{}
		}
	}
	return s
}

func (s Static) IsEnabled(feature string) bool {
	_, ok := s[strings.ToLower(feature)]
	return ok
}
