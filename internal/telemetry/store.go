package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS compression_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	input_format TEXT NOT NULL,
	output_format TEXT NOT NULL,
	input_size_range TEXT NOT NULL,
	quality_setting INTEGER NOT NULL,
	lossy_mode INTEGER NOT NULL,
	size_reduction_percent REAL NOT NULL,
	original_size INTEGER NOT NULL,
	compressed_size INTEGER NOT NULL,
	compression_time_ms INTEGER,
	tool_version TEXT,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stats_formats
	ON compression_stats (input_format, output_format, quality_setting);
`

// Store persists compression telemetry in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the telemetry database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordWithTime persists a record including its compression timing.
func (s *Store) RecordWithTime(ctx context.Context, rec Record) error {
	return s.insert(ctx, rec, true)
}

// Record persists a record without timing. It exists as a fallback for
// deployments whose schema predates the timing column.
func (s *Store) Record(ctx context.Context, rec Record) error {
	return s.insert(ctx, rec, false)
}

func (s *Store) insert(ctx context.Context, rec Record, withTime bool) error {
	var timeMs any
	if withTime {
		timeMs = rec.CompressionTimeMs
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compression_stats (
			input_format, output_format, input_size_range, quality_setting,
			lossy_mode, size_reduction_percent, original_size, compressed_size,
			compression_time_ms, tool_version, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InputFormat, rec.OutputFormat, rec.InputSizeRange, rec.Quality,
		rec.Lossy, rec.ReductionPercent, rec.OriginalSize, rec.CompressedSize,
		timeMs, rec.ToolVersion, rec.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert compression stat: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM compression_stats").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count compression stats: %w", err)
	}
	return count, nil
}

// Clear deletes every stored record.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM compression_stats"); err != nil {
		return fmt.Errorf("clear compression stats: %w", err)
	}
	return nil
}

// Cleanup keeps only the maxRecords most recent rows and returns how
// many were purged.
func (s *Store) Cleanup(ctx context.Context, maxRecords int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM compression_stats
		 WHERE id NOT IN (
			SELECT id FROM compression_stats
			ORDER BY timestamp DESC
			LIMIT ?
		 )`, maxRecords)
	if err != nil {
		return 0, fmt.Errorf("cleanup compression stats: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return deleted, nil
}

// Estimate predicts the size reduction for a format pair from recorded
// history, falling back to the static heuristic when too little data
// exists. Recorded samples are matched within a ±10 quality band.
func (s *Store) Estimate(ctx context.Context, q EstimationQuery) (Estimation, error) {
	minQuality := q.Quality - 10
	if minQuality < 1 {
		minQuality = 1
	}
	maxQuality := q.Quality + 10
	if maxQuality > 100 {
		maxQuality = 100
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT
			AVG(size_reduction_percent),
			COUNT(*),
			AVG(size_reduction_percent * size_reduction_percent)
				- AVG(size_reduction_percent) * AVG(size_reduction_percent)
		 FROM compression_stats
		 WHERE input_format = ? AND output_format = ?
		   AND quality_setting BETWEEN ? AND ?
		   AND lossy_mode = ?`,
		q.InputFormat, q.OutputFormat, minQuality, maxQuality, q.Lossy)

	var (
		avg      sql.NullFloat64
		count    int64
		variance sql.NullFloat64
	)
	if err := row.Scan(&avg, &count, &variance); err != nil {
		return Estimation{}, fmt.Errorf("query compression estimation: %w", err)
	}

	if count == 0 || !avg.Valid {
		return HeuristicEstimate(q), nil
	}

	return Estimation{
		Percent:     avg.Float64,
		Ratio:       (100 - avg.Float64) / 100,
		Confidence:  Confidence(count, variance.Float64),
		SampleCount: count,
	}, nil
}
