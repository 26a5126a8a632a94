package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseSubjectID("")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidID))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseSubjectID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidID))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseSubjectID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidID))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseSubjectID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, SubjectID(validUUID), id)
	})
}

func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE aggregates;--", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400\u200B-e29b-41d4-a716-446655440000", true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvidenceID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidID))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	validUUID := uuid.New().String()
	invalidInputs := []string{"", "invalid", uuid.Nil.String()}

	t.Run("all accept valid UUID", func(t *testing.T) {
		_, errSubject := ParseSubjectID(validUUID)
		_, errAgent := ParseAgentID(validUUID)
		_, errEvidence := ParseEvidenceID(validUUID)
		_, errBucket := ParseBucketID(validUUID)

		require.NoError(t, errSubject)
		require.NoError(t, errAgent)
		require.NoError(t, errEvidence)
		require.NoError(t, errBucket)
	})

	for _, input := range invalidInputs {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errSubject := ParseSubjectID(input)
			_, errAgent := ParseAgentID(input)
			_, errEvidence := ParseEvidenceID(input)
			_, errBucket := ParseBucketID(input)

			require.Error(t, errSubject)
			require.Error(t, errAgent)
			require.Error(t, errEvidence)
			require.Error(t, errBucket)
		})
	}
}

func TestIDs_JSONRoundTrip(t *testing.T) {
	type envelope struct {
		Subject  SubjectID  `json:"subject_id"`
		Evidence EvidenceID `json:"evidence_id"`
	}
	in := envelope{Subject: SubjectID(uuid.New()), Evidence: EvidenceID(uuid.New())}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), in.Subject.String())

	var out envelope
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	err = json.Unmarshal([]byte(`{"subject_id":"nope"}`), &out)
	assert.True(t, errors.Is(err, ErrInvalidID))
}
