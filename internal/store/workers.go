package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/byrde/scheduler/internal/domain"
)

// UpsertWorkerHeartbeat records that workerID is alive as of now, for the
// Shard Router to build its view of the live fleet from.
func (s *Store) UpsertWorkerHeartbeat(ctx context.Context, workerID string, now time.Time, shardCount int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO worker_heartbeats (worker_id, last_seen, shard_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (worker_id) DO UPDATE SET last_seen = $2, shard_count = $3`,
		workerID, now, shardCount)
	if err != nil {
		return errors.Wrap(domain.ErrTransientStore, err.Error())
	}
	return nil
}

// ListActiveWorkers returns every worker whose heartbeat is within
// staleAfter of now, sorted by worker_id for deterministic rendezvous
// hashing inputs.
func (s *Store) ListActiveWorkers(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT worker_id FROM worker_heartbeats
		WHERE last_seen >= $1
		ORDER BY worker_id ASC`, now.Add(-staleAfter))
	if err != nil {
		return nil, errors.Wrap(domain.ErrTransientStore, err.Error())
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(domain.ErrTransientStore, err.Error())
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
