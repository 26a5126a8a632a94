// Package postgres implements the aggregate store on a single PostgreSQL table.
// Every counter and set mutation is one statement so concurrent workers never
// read-modify-write from Go.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dossier/internal/aggregate"
	"dossier/internal/aggregate/ports"
	"dossier/internal/geo"
	"dossier/internal/peer"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
	"dossier/pkg/platform/tx"
)

var _ ports.Store = (*Store)(nil)

const bucketColumns = `id, subject_id, agent_id, day, kind, peer, direction, sender,
	lat, lon, radius, count, size, info, created_at, updated_at`

// Store persists aggregates in the "aggregates" table.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed aggregate store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) exec(ctx context.Context) tx.Executor {
	return tx.ExecutorFrom(ctx, s.db)
}

// RunInTx runs fn in a transaction carried by ctx.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, s.db, fn)
}

func (s *Store) IncrementCommunication(ctx context.Context, key aggregate.CommunicationKey, weight int64) (*aggregate.Bucket, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	query := `
		INSERT INTO aggregates (id, identity_hash, subject_id, agent_id, day, kind, peer, direction, sender, count, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
		ON CONFLICT (identity_hash) DO UPDATE SET
			count = aggregates.count + 1,
			size = aggregates.size + EXCLUDED.size,
			updated_at = now()
		RETURNING ` + bucketColumns + `, (xmax = 0) AS inserted
	`
	row := s.exec(ctx).QueryRowContext(ctx, query,
		uuid.New(),
		key.IdentityHash(),
		uuid.UUID(key.SubjectID),
		uuid.UUID(key.AgentID),
		key.Day,
		key.Kind,
		key.Peer,
		string(key.Direction),
		key.Sender,
		max(weight, 0),
	)
	b, inserted, err := scanBucketInserted(row)
	if err != nil {
		return nil, false, mapError("increment communication", err)
	}
	return b, inserted, nil
}

func (s *Store) FindOrCreatePosition(ctx context.Context, key aggregate.PositionKey) (*aggregate.Bucket, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	// the no-op update makes RETURNING yield the existing row on conflict
	query := `
		INSERT INTO aggregates (id, identity_hash, subject_id, agent_id, day, kind, lat, lon, radius)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity_hash) DO UPDATE SET
			identity_hash = EXCLUDED.identity_hash
		RETURNING ` + bucketColumns + `, (xmax = 0) AS inserted
	`
	row := s.exec(ctx).QueryRowContext(ctx, query,
		uuid.New(),
		key.IdentityHash(),
		uuid.UUID(key.SubjectID),
		uuid.UUID(key.AgentID),
		key.Day,
		aggregate.KindPosition,
		key.Lat,
		key.Lon,
		key.Radius,
	)
	b, inserted, err := scanBucketInserted(row)
	if err != nil {
		return nil, false, mapError("find or create position", err)
	}
	return b, inserted, nil
}

func (s *Store) FindPositions(ctx context.Context, subjectID id.SubjectID, box geo.Box) ([]*aggregate.Bucket, error) {
	allLon := box.MinLon < -180 || box.MaxLon > 180
	query := `
		SELECT ` + bucketColumns + `
		FROM aggregates
		WHERE subject_id = $1
			AND kind = $2
			AND lat BETWEEN $3 AND $4
			AND ($7::boolean OR lon BETWEEN $5 AND $6)
		ORDER BY day, created_at
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query,
		uuid.UUID(subjectID), aggregate.KindPosition,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, allLon,
	)
	if err != nil {
		return nil, mapError("find positions", err)
	}
	return collectBuckets(rows)
}

func (s *Store) RecordTimeframe(ctx context.Context, bucketID id.BucketID, tf aggregate.Timeframe) (bool, error) {
	element, err := json.Marshal([]aggregate.Timeframe{{Start: tf.Start.UTC(), End: tf.End.UTC()}})
	if err != nil {
		return false, fmt.Errorf("marshal timeframe: %w", err)
	}
	query := `
		UPDATE aggregates SET
			info = info || $2::jsonb,
			count = count + 1,
			updated_at = now()
		WHERE id = $1 AND kind = $3 AND NOT info @> $2::jsonb
	`
	res, err := s.exec(ctx).ExecContext(ctx, query, uuid.UUID(bucketID), string(element), aggregate.KindPosition)
	if err != nil {
		return false, mapError("record timeframe", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError("record timeframe", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	err = s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM aggregates WHERE id = $1 AND kind = $2)`,
		uuid.UUID(bucketID), aggregate.KindPosition,
	).Scan(&exists)
	if err != nil {
		return false, mapError("record timeframe", err)
	}
	if !exists {
		return false, fmt.Errorf("position bucket %s: %w", bucketID, sentinel.ErrNotFound)
	}
	return false, nil
}

func (s *Store) SummaryContains(ctx context.Context, subjectID id.SubjectID, kind, p string) (bool, error) {
	token, err := tokenSet(kind, p)
	if err != nil {
		return false, err
	}
	var ok bool
	err = s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM aggregates WHERE identity_hash = $1 AND info @> $2::jsonb)`,
		aggregate.SummaryIdentity(subjectID), token,
	).Scan(&ok)
	if err != nil {
		return false, mapError("summary contains", err)
	}
	return ok, nil
}

func (s *Store) SummaryAdd(ctx context.Context, subjectID id.SubjectID, kind, p string) error {
	if subjectID.IsNil() {
		return aggregate.ErrSubjectRequired
	}
	token, err := tokenSet(kind, p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO aggregates (id, identity_hash, subject_id, agent_id, day, kind, info)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (identity_hash) DO UPDATE SET
			info = aggregates.info || EXCLUDED.info,
			updated_at = now()
		WHERE NOT aggregates.info @> EXCLUDED.info
	`
	_, err = s.exec(ctx).ExecContext(ctx, query,
		uuid.New(),
		aggregate.SummaryIdentity(subjectID),
		uuid.UUID(subjectID),
		uuid.Nil,
		aggregate.AllTimeDay,
		aggregate.KindSummary,
		token,
	)
	if err != nil {
		return mapError("summary add", err)
	}
	return nil
}

func (s *Store) RebuildSummary(ctx context.Context, subjectID id.SubjectID) (int, error) {
	if subjectID.IsNil() {
		return 0, aggregate.ErrSubjectRequired
	}
	query := `
		INSERT INTO aggregates (id, identity_hash, subject_id, agent_id, day, kind, info)
		SELECT $1::uuid, $2::bytea, $3::uuid, $4::uuid, $5::text, $6::text,
			COALESCE(jsonb_agg(DISTINCT kind || '_' || peer), '[]'::jsonb)
		FROM aggregates
		WHERE subject_id = $3::uuid AND kind <> ALL($7::text[])
		ON CONFLICT (identity_hash) DO UPDATE SET
			info = EXCLUDED.info,
			updated_at = now()
		RETURNING jsonb_array_length(info)
	`
	var n int
	err := s.exec(ctx).QueryRowContext(ctx, query,
		uuid.New(),
		aggregate.SummaryIdentity(subjectID),
		uuid.UUID(subjectID),
		uuid.Nil,
		aggregate.AllTimeDay,
		aggregate.KindSummary,
		pq.Array(aggregate.ReservedKinds()),
	).Scan(&n)
	if err != nil {
		return 0, mapError("rebuild summary", err)
	}
	return n, nil
}

func (s *Store) LoadPositionerState(ctx context.Context, subjectID id.SubjectID, agentID id.AgentID) ([]byte, error) {
	var state []byte
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT state FROM aggregates WHERE identity_hash = $1`,
		aggregate.PositionerIdentity(subjectID, agentID),
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && state == nil) {
		return nil, fmt.Errorf("positioner state: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, mapError("load positioner state", err)
	}
	return state, nil
}

func (s *Store) SavePositionerState(ctx context.Context, subjectID id.SubjectID, agentID id.AgentID, state []byte) error {
	if subjectID.IsNil() {
		return aggregate.ErrSubjectRequired
	}
	query := `
		INSERT INTO aggregates (id, identity_hash, subject_id, agent_id, day, kind, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_hash) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = now()
	`
	_, err := s.exec(ctx).ExecContext(ctx, query,
		uuid.New(),
		aggregate.PositionerIdentity(subjectID, agentID),
		uuid.UUID(subjectID),
		uuid.UUID(agentID),
		aggregate.AllTimeDay,
		aggregate.KindPositioner,
		state,
	)
	if err != nil {
		return mapError("save positioner state", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, subjectID id.SubjectID, filter aggregate.Filter) ([]*aggregate.Bucket, error) {
	var (
		where = []string{"subject_id = $1", "day <> $2"}
		args  = []any{uuid.UUID(subjectID), aggregate.AllTimeDay}
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Class == aggregate.ClassPosition {
		where = append(where, "kind = "+arg(aggregate.KindPosition))
	} else {
		where = append(where, "kind <> ALL("+arg(pq.Array(aggregate.ReservedKinds()))+")")
	}
	if len(filter.Kinds) > 0 {
		where = append(where, "kind = ANY("+arg(pq.Array(filter.Kinds))+")")
	}
	if filter.FromDay != "" {
		where = append(where, "day >= "+arg(filter.FromDay))
	}
	if filter.ToDay != "" {
		where = append(where, "day <= "+arg(filter.ToDay))
	}

	query := `SELECT ` + bucketColumns + ` FROM aggregates WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY day, created_at`
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("query aggregates", err)
	}
	return collectBuckets(rows)
}

func tokenSet(kind, p string) (string, error) {
	raw, err := json.Marshal([]string{peer.Token(kind, p)})
	if err != nil {
		return "", fmt.Errorf("marshal summary token: %w", err)
	}
	return string(raw), nil
}
