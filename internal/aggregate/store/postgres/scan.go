package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"dossier/internal/aggregate"
	"dossier/internal/peer"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanBucket(row scanner, extra ...any) (*aggregate.Bucket, error) {
	var (
		b                          aggregate.Bucket
		bucketID, subject, agentID uuid.UUID
		direction                  string
		info                       []byte
	)
	dest := []any{
		&bucketID, &subject, &agentID, &b.Day, &b.Kind, &b.Peer, &direction, &b.Sender,
		&b.Lat, &b.Lon, &b.Radius, &b.Count, &b.Size, &info, &b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	b.ID = id.BucketID(bucketID)
	b.SubjectID = id.SubjectID(subject)
	b.AgentID = id.AgentID(agentID)
	b.Direction = peer.Direction(direction)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	if b.Kind == aggregate.KindPosition && len(info) > 0 {
		if err := json.Unmarshal(info, &b.Timeframes); err != nil {
			return nil, fmt.Errorf("decode timeframes of %s: %w", b.ID, sentinel.ErrInvalidState)
		}
		if len(b.Timeframes) == 0 {
			b.Timeframes = nil
		}
	}
	return &b, nil
}

func scanBucketInserted(row scanner) (*aggregate.Bucket, bool, error) {
	var inserted bool
	b, err := scanBucket(row, &inserted)
	if err != nil {
		return nil, false, err
	}
	return b, inserted, nil
}

func collectBuckets(rows *sql.Rows) ([]*aggregate.Bucket, error) {
	defer rows.Close()
	var out []*aggregate.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, mapError("scan aggregate", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate aggregates", err)
	}
	return out, nil
}

// mapError classifies driver errors into sentinel errors.
func mapError(op string, err error) error {
	if errors.Is(err, sentinel.ErrInvalidState) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %v", op, sentinel.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrConflict, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrUnavailable, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
