package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"

	"github.com/oarkflow/sensorbridge/pkg/entity"
)

// Store writes sensor records into the wide-column table. Each record
// becomes one cell: row key = entity id, the room partitions the row the
// way HBase column families would, the sensor name is the column qualifier
// and the cell payload is "<value>|<timestamp>". Re-inserting the same
// (id, room, sensor) overwrites the prior cell, last write wins.
type Store struct {
	exec     executor
	keyspace string
	table    string
	logger   *log.Logger

	dedup     *ristretto.Cache
	dedupHits atomic.Int64
}

func newStore(exec executor, keyspace, table string, logger *log.Logger) *Store {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	// Duplicate entities are common upstream; the cache lets a sweep skip
	// rewriting cells it has already written with the same payload. Best
	// effort only: a cache miss just means one redundant write.
	dedup, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("dedup cache unavailable, every cell will be written")
		dedup = nil
	}
	return &Store{exec: exec, keyspace: keyspace, table: table, logger: logger, dedup: dedup}
}

// DedupHits reports how many writes were skipped as within-sweep duplicates.
func (s *Store) DedupHits() int64 {
	return s.dedupHits.Load()
}

// Insert writes one record's cell. Records with an unset id, room, sensor
// name or timestamp, or with no resolved value, are skipped with a warning;
// that is missing data, not an error. A closed session is an error. The
// returned bool reports whether a cell was actually accounted for.
func (s *Store) Insert(ctx context.Context, rec *entity.SensorRecord) (bool, error) {
	if rec == nil {
		s.logger.Warn().Msg("skipping insert of nil record")
		return false, nil
	}
	if rec.ID == "" || rec.Room == "" || rec.SensorName == "" || rec.Timestamp == "" {
		s.logger.Warn().Str("record", rec.String()).Msg("skipping insert, record has unset required fields")
		return false, nil
	}
	if !rec.HasValue() {
		s.logger.Warn().Str("id", rec.ID).Str("sensor", rec.SensorName).Msg("skipping insert, record has no resolved value")
		return false, nil
	}
	if s.exec == nil || s.exec.closed() {
		return false, errors.New("store session is closed")
	}

	cell := rec.CellValue()
	key := rec.ID + "|" + rec.Room + "|" + rec.SensorName + "|" + cell
	if s.dedup != nil {
		if _, seen := s.dedup.Get(key); seen {
			s.dedupHits.Add(1)
			return true, nil
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s.%s (id, room, sensor, value) VALUES (?, ?, ?, ?)", s.keyspace, s.table)
	if err := s.exec.exec(ctx, stmt, rec.ID, rec.Room, rec.SensorName, cell); err != nil {
		return false, err
	}
	if s.dedup != nil {
		s.dedup.Set(key, struct{}{}, 1)
		// Set is buffered; Wait makes the key visible to the next call
		// so duplicates inside one page are actually caught.
		s.dedup.Wait()
	}
	return true, nil
}

// BatchInsert applies Insert to each record independently. Failures are
// counted and logged, never aborting the rest of the batch. Returns the
// number of successful insertions.
func (s *Store) BatchInsert(ctx context.Context, recs []*entity.SensorRecord) int {
	var inserted, skipped, failed int
	for _, rec := range recs {
		ok, err := s.Insert(ctx, rec)
		switch {
		case err != nil:
			failed++
			id := "<nil>"
			if rec != nil {
				id = rec.ID
			}
			s.logger.Error().Err(err).Str("id", id).Msg("record insert failed")
		case ok:
			inserted++
		default:
			skipped++
		}
	}
	s.logger.Info().Int("inserted", inserted).Int("skipped", skipped).Int("failed", failed).Msg("batch insert finished")
	return inserted
}

// ReadCell fetches one stored cell payload, primarily for verification.
func (s *Store) ReadCell(ctx context.Context, id, room, sensor string) (string, error) {
	if s.exec == nil || s.exec.closed() {
		return "", errors.New("store session is closed")
	}
	stmt := fmt.Sprintf("SELECT value FROM %s.%s WHERE id = ? AND room = ? AND sensor = ?", s.keyspace, s.table)
	var value string
	if err := s.exec.scanOne(ctx, stmt, []any{id, room, sensor}, &value); err != nil {
		return "", err
	}
	return value, nil
}

// Close releases the underlying session.
func (s *Store) Close() error {
	if s.exec != nil {
		s.exec.close()
	}
	return nil
}
