package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// MigrationFiles returns the .sql files of dir in execution order
func MigrationFiles(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)
	return sqlFiles, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	sqlFiles, err := MigrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// UpsertSubject inserts a subject or refreshes its device
func (db *DB) UpsertSubject(s *Subject) error {
	query := `
		INSERT INTO subjects (subject_id, device)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE
		SET device = COALESCE(NULLIF(EXCLUDED.device, ''), subjects.device),
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.Exec(query, s.SubjectID, s.Device)
	return err
}

// InsertMeasurements logs a batch of measurements in one transaction.
// Measurements already logged (same ID) are skipped.
func (db *DB) InsertMeasurements(measurements []*Measurement) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	subjectStmt, err := tx.Prepare(`
		INSERT INTO subjects (subject_id) VALUES ($1)
		ON CONFLICT (subject_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare subject insert: %w", err)
	}
	defer subjectStmt.Close()

	measurementStmt, err := tx.Prepare(`
		INSERT INTO measurements (
			id, subject_id, measured_at, level, time_category, received_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare measurement insert: %w", err)
	}
	defer measurementStmt.Close()

	for _, m := range measurements {
		if _, err := subjectStmt.Exec(m.SubjectID); err != nil {
			return fmt.Errorf("failed to ensure subject %s: %w", m.SubjectID, err)
		}
		if _, err := measurementStmt.Exec(
			m.ID,
			m.SubjectID,
			m.MeasuredAt,
			m.Level,
			m.TimeCategory,
			m.ReceivedAt,
		); err != nil {
			return fmt.Errorf("failed to insert measurement %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetMeasurements returns a subject's measurements taken in [from, to), oldest first
func (db *DB) GetMeasurements(subjectID string, from, to time.Time) ([]*Measurement, error) {
	query := `
		SELECT id, subject_id, measured_at, level, time_category, received_at
		FROM measurements
		WHERE subject_id = $1 AND measured_at >= $2 AND measured_at < $3
		ORDER BY measured_at, received_at
	`

	rows, err := db.Query(query, subjectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var measurements []*Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(
			&m.ID,
			&m.SubjectID,
			&m.MeasuredAt,
			&m.Level,
			&m.TimeCategory,
			&m.ReceivedAt,
		); err != nil {
			return nil, err
		}
		measurements = append(measurements, &m)
	}

	return measurements, rows.Err()
}

// UpsertDailySnapshot stores or replaces the snapshot of one window for one day
func (db *DB) UpsertDailySnapshot(s *DailySnapshot) error {
	query := `
		INSERT INTO daily_snapshots (
			subject_id, snapshot_date, window_label, is_current,
			average, lowest, highest,
			very_high, high, normal, low, unclassified,
			time_stats
		) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (subject_id, snapshot_date, window_label) DO UPDATE
		SET is_current = EXCLUDED.is_current,
		    average = EXCLUDED.average,
		    lowest = EXCLUDED.lowest,
		    highest = EXCLUDED.highest,
		    very_high = EXCLUDED.very_high,
		    high = EXCLUDED.high,
		    normal = EXCLUDED.normal,
		    low = EXCLUDED.low,
		    unclassified = EXCLUDED.unclassified,
		    time_stats = EXCLUDED.time_stats
	`

	_, err := db.Exec(query,
		s.SubjectID, s.SnapshotDate, s.WindowLabel, s.IsCurrent,
		s.Average, s.Lowest, s.Highest,
		s.VeryHigh, s.High, s.Normal, s.Low, s.Unclassified,
		s.TimeStats,
	)
	return err
}

// GetDailySnapshots returns a subject's snapshots of one window between two dates, inclusive
func (db *DB) GetDailySnapshots(subjectID, windowLabel string, from, to time.Time) ([]*DailySnapshot, error) {
	query := `
		SELECT subject_id, snapshot_date, window_label, is_current,
		       average, lowest, highest,
		       very_high, high, normal, low, unclassified,
		       time_stats, created_at
		FROM daily_snapshots
		WHERE subject_id = $1 AND window_label = $2
		  AND snapshot_date BETWEEN $3::date AND $4::date
		ORDER BY snapshot_date
	`

	rows, err := db.Query(query, subjectID, windowLabel, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*DailySnapshot
	for rows.Next() {
		var s DailySnapshot
		if err := rows.Scan(
			&s.SubjectID,
			&s.SnapshotDate,
			&s.WindowLabel,
			&s.IsCurrent,
			&s.Average,
			&s.Lowest,
			&s.Highest,
			&s.VeryHigh,
			&s.High,
			&s.Normal,
			&s.Low,
			&s.Unclassified,
			&s.TimeStats,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &s)
	}

	return snapshots, rows.Err()
}
