package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dossier/internal/evidence"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

// PostgresStore reads evidence rows written by the capture pipeline.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a read-only PostgreSQL evidence store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, evidenceID id.EvidenceID) (*evidence.Evidence, error) {
	query := `
		SELECT id, subject_id, agent_id, kind, acquired_at, payload
		FROM evidence
		WHERE id = $1
	`
	var (
		ev                       evidence.Evidence
		evID, subjectID, agentID uuid.UUID
		kind                     string
		payload                  []byte
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(evidenceID)).Scan(
		&evID, &subjectID, &agentID, &kind, &ev.AcquiredAt, &payload,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evidence %s: %w", evidenceID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get evidence: %w", err)
	}

	ev.Payload, err = evidence.ParsePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("decode evidence %s payload: %w", evidenceID, sentinel.ErrInvalidState)
	}
	ev.ID = id.EvidenceID(evID)
	ev.SubjectID = id.SubjectID(subjectID)
	ev.AgentID = id.AgentID(agentID)
	ev.Kind = evidence.Kind(kind)
	ev.AcquiredAt = ev.AcquiredAt.UTC()
	return &ev, nil
}

// Insert writes evidence rows. The engine never calls it; seeding tools and
// integration tests do.
func (s *PostgresStore) Insert(ctx context.Context, ev evidence.Evidence) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal evidence payload: %w", err)
	}
	query := `
		INSERT INTO evidence (id, subject_id, agent_id, kind, acquired_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(ev.ID),
		uuid.UUID(ev.SubjectID),
		uuid.UUID(ev.AgentID),
		string(ev.Kind),
		ev.AcquiredAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}
