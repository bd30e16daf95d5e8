package diag

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gogpu/segfx/internal/detect"
	"github.com/gogpu/segfx/internal/mask"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite appends detections to a SQLite database, one row per instance,
// tagged with a run id so several runs can share a file.
type SQLite struct {
	db     *sql.DB
	run    uuid.UUID
	insert *sql.Stmt
}

// OpenSQLite opens or creates the database at path, migrates it to the
// latest schema and registers a new run.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("diag: open %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	run := uuid.New()
	if _, err := db.Exec(`INSERT INTO runs (id) VALUES (?)`, run.String()); err != nil {
		db.Close()
		return nil, fmt.Errorf("diag: register run: %w", err)
	}
	insert, err := db.Prepare(`
		INSERT INTO detections (run_id, frame, class_id, label, score, x1, y1, x2, y2, mask_pixels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("diag: prepare insert: %w", err)
	}
	return &SQLite{db: db, run: run, insert: insert}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("diag: migration source: %w", err)
	}
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("diag: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("diag: migrate: %w", err)
	}
	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("diag: migration up failed: %w", err)
	}
	return nil
}

// RunID identifies this run's rows.
func (s *SQLite) RunID() uuid.UUID { return s.run }

// DB returns the underlying database for queries.
func (s *SQLite) DB() *sql.DB { return s.db }

// Detections inserts one row per detection in a single transaction.
func (s *SQLite) Detections(frame int, dets []detect.Detection) error {
	if len(dets) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("diag: begin: %w", err)
	}
	stmt := tx.Stmt(s.insert)
	for _, d := range dets {
		pixels := 0
		if d.Mask != nil {
			pixels = d.Mask.Count()
		}
		_, err := stmt.Exec(s.run.String(), frame, d.ClassID, d.Label, d.Score,
			d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, pixels)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("diag: insert detection: %w", err)
		}
	}
	return tx.Commit()
}

// Mask is a no-op; pixel counts are stored with each detection.
func (s *SQLite) Mask(int, string, *mask.Mask) error { return nil }

// Close releases the database.
func (s *SQLite) Close() error {
	return errors.Join(s.insert.Close(), s.db.Close())
}
