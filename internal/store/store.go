// Package store is the Task Store: a small, purely operational
// surface over PostgreSQL with no business logic. Every exported method
// is one transaction.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/byrde/scheduler/internal/domain"
)

const uniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{db: db} }

// Insert persists a new row. It fails with domain.ErrDuplicateInstance if
// (task_name, task_instance) already exists.
func (s *Store) Insert(ctx context.Context, t domain.Task) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_tasks (
			task_name, task_instance, execution_time, data,
			picked, consecutive_failures, version
		) VALUES ($1, $2, $3, $4, false, 0, 0)`,
		t.TaskName, t.TaskInstance, t.ExecutionTime, t.Data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Wrapf(domain.ErrDuplicateInstance, "store: insert %s/%s", t.TaskName, t.TaskInstance)
		}
		return errors.Wrapf(domain.ErrTransientStore, "store: insert %s/%s: %v", t.TaskName, t.TaskInstance, err)
	}
	return nil
}

// ClaimDue returns up to batchSize due, unclaimed rows and atomically
// marks them picked by workerID. shardPredicate, if non-empty, is a SQL
// boolean expression (referencing task_name/task_instance columns) the
// Shard Router uses to narrow the candidate set; pass "" for no
// narrowing. Implemented as SELECT ... FOR UPDATE SKIP LOCKED followed by
// an UPDATE on exactly the locked keys, so concurrent workers never block
// on each other's rows.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, workerID string, batchSize int, shardPredicate string) ([]domain.Task, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	predicate := "true"
	if shardPredicate != "" {
		predicate = shardPredicate
	}

	var claimed []domain.Task
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT task_name, task_instance
			FROM scheduled_tasks
			WHERE picked = false AND execution_time <= $1 AND (`+predicate+`)
			ORDER BY execution_time ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, now, batchSize)
		if err != nil {
			return err
		}
		type key struct{ name, instance string }
		var keys []key
		for rows.Next() {
			var k key
			if err := rows.Scan(&k.name, &k.instance); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		names := make([]string, len(keys))
		instances := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.name
			instances[i] = k.instance
		}

		updRows, err := tx.Query(ctx, `
			UPDATE scheduled_tasks
			SET picked = true, picked_by = $1, last_heartbeat = $2, version = version + 1
			WHERE (task_name, task_instance) IN (
				SELECT * FROM unnest($3::text[], $4::text[])
			)
			RETURNING task_name, task_instance, execution_time, data,
				picked, picked_by, last_heartbeat, last_success, last_failure,
				consecutive_failures, version`,
			workerID, now, names, instances)
		if err != nil {
			return err
		}
		defer updRows.Close()
		for updRows.Next() {
			t, err := scanTask(updRows)
			if err != nil {
				return err
			}
			claimed = append(claimed, t)
		}
		return updRows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(domain.ErrTransientStore, err.Error())
	}
	return claimed, nil
}

// Heartbeat sets last_heartbeat=now iff picked_by=workerID.
func (s *Store) Heartbeat(ctx context.Context, taskName, taskInstance, workerID string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks
		SET last_heartbeat = $1
		WHERE task_name = $2 AND task_instance = $3 AND picked_by = $4`,
		now, taskName, taskInstance, workerID)
	if err != nil {
		return errors.Wrapf(domain.ErrTransientStore, "store: heartbeat %s/%s: %v", taskName, taskInstance, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrLeaseLost, "store: heartbeat %s/%s", taskName, taskInstance)
	}
	return nil
}

// Complete deletes the row iff picked_by=workerID.
func (s *Store) Complete(ctx context.Context, taskName, taskInstance, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM scheduled_tasks
		WHERE task_name = $1 AND task_instance = $2 AND picked_by = $3`,
		taskName, taskInstance, workerID)
	if err != nil {
		return errors.Wrapf(domain.ErrTransientStore, "store: complete %s/%s: %v", taskName, taskInstance, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrLeaseLost, "store: complete %s/%s", taskName, taskInstance)
	}
	return nil
}

// Reschedule updates a recurring row's scheduling fields and releases
// its lease, atomic with the lease check.
func (s *Store) Reschedule(ctx context.Context, taskName, taskInstance, workerID string, nextTime time.Time, outcome domain.Outcome, now time.Time) error {
	var query string
	switch outcome {
	case domain.OutcomeSuccess:
		query = `
			UPDATE scheduled_tasks
			SET execution_time = $1, picked = false, picked_by = NULL, last_heartbeat = NULL,
				version = version + 1, last_success = $5, consecutive_failures = 0
			WHERE task_name = $2 AND task_instance = $3 AND picked_by = $4`
	case domain.OutcomeFailure:
		query = `
			UPDATE scheduled_tasks
			SET execution_time = $1, picked = false, picked_by = NULL, last_heartbeat = NULL,
				version = version + 1, last_failure = $5, consecutive_failures = consecutive_failures + 1
			WHERE task_name = $2 AND task_instance = $3 AND picked_by = $4`
	default:
		return errors.Errorf("store: unknown outcome %q", outcome)
	}

	tag, err := s.db.Exec(ctx, query, nextTime, taskName, taskInstance, workerID, now)
	if err != nil {
		return errors.Wrapf(domain.ErrTransientStore, "store: reschedule %s/%s: %v", taskName, taskInstance, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrLeaseLost, "store: reschedule %s/%s", taskName, taskInstance)
	}
	return nil
}

// RecoverLeases releases every row whose lease has gone stale
// (picked=true and last_heartbeat older than staleAfter) and returns how
// many it released.
func (s *Store) RecoverLeases(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks
		SET picked = false, picked_by = NULL, last_heartbeat = NULL, version = version + 1
		WHERE picked = true AND last_heartbeat < $1`,
		now.Add(-staleAfter))
	if err != nil {
		return 0, errors.Wrap(domain.ErrTransientStore, err.Error())
	}
	return int(tag.RowsAffected()), nil
}

// Get is a point lookup, used by the HTTP status endpoint.
func (s *Store) Get(ctx context.Context, taskName, taskInstance string) (domain.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT task_name, task_instance, execution_time, data,
			picked, picked_by, last_heartbeat, last_success, last_failure,
			consecutive_failures, version
		FROM scheduled_tasks
		WHERE task_name = $1 AND task_instance = $2`, taskName, taskInstance)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, errors.Wrapf(domain.ErrNotFound, "store: get %s/%s", taskName, taskInstance)
	}
	if err != nil {
		return domain.Task{}, errors.Wrapf(domain.ErrTransientStore, "store: get %s/%s: %v", taskName, taskInstance, err)
	}
	return t, nil
}

// StatusCounts is the diagnostic aggregate returned by CountByStatus.
type StatusCounts struct {
	Claimed   int64
	Claimable int64
	Poisoned  int64 // consecutive_failures above the poison threshold
}

// CountByStatus is a diagnostic aggregate exposed via the health endpoint.
func (s *Store) CountByStatus(ctx context.Context, poisonThreshold int) (StatusCounts, error) {
	var c StatusCounts
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE picked = true),
			COUNT(*) FILTER (WHERE picked = false),
			COUNT(*) FILTER (WHERE consecutive_failures > $1)
		FROM scheduled_tasks`, poisonThreshold).Scan(&c.Claimed, &c.Claimable, &c.Poisoned)
	if err != nil {
		return StatusCounts{}, errors.Wrap(domain.ErrTransientStore, err.Error())
	}
	return c, nil
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.TaskName, &t.TaskInstance, &t.ExecutionTime, &t.Data,
		&t.Picked, &t.PickedBy, &t.LastHeartbeat, &t.LastSuccess, &t.LastFailure,
		&t.ConsecutiveFailures, &t.Version,
	)
	return t, err
}
