// Package store records detection runs in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Image status values
const (
	StatusOK          = "ok"
	StatusLoadFailed  = "load_failed"
	StatusInferFailed = "infer_failed"
	StatusWriteFailed = "write_failed"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("store: run not found")

// Run is one invocation of the detector over a directory
type Run struct {
	ID             string
	Model          string
	ImageDir       string
	Allocator      string
	StartedAt      time.Time
	FinishedAt     time.Time
	Processed      int
	Failed         int
	AvgInferenceMs float64
}

// Image is the outcome for one input file
type Image struct {
	Path        string
	OutputPath  string
	Status      string
	InferenceMs int64
	Error       string
	Detections  []Detection
}

// Detection is one labelled box
type Detection struct {
	ClassID int
	Label   string
	Prop    float32
	Left    int
	Top     int
	Right   int
	Bottom  int
}

// Store is a SQLite-backed run history
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is required")
	}

	// Pragmas in the DSN apply to every pooled connection
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite handles a single writer best
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// migrateUp applies pending migrations. The migrator is not closed because
// closing it also closes db.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts a new run
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model, image_dir, allocator, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.ImageDir, run.Allocator, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// RecordImage stores an image outcome and its detections
func (s *Store) RecordImage(ctx context.Context, runID string, img Image) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO images (run_id, path, output_path, status, inference_ms, error) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, img.Path, nullString(img.OutputPath), img.Status, img.InferenceMs, nullString(img.Error))
	if err != nil {
		return fmt.Errorf("inserting image %s: %w", img.Path, err)
	}
	imageID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading image id: %w", err)
	}

	for _, d := range img.Detections {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO detections (image_id, class_id, label, prop, box_left, box_top, box_right, box_bottom)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			imageID, d.ClassID, d.Label, d.Prop, d.Left, d.Top, d.Right, d.Bottom)
		if err != nil {
			return fmt.Errorf("inserting detection: %w", err)
		}
	}

	return tx.Commit()
}

// FinishRun stores the run summary
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	var avg sql.NullFloat64
	if run.Processed > 0 {
		avg = sql.NullFloat64{Float64: run.AvgInferenceMs, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, processed = ?, failed = ?, avg_inference_ms = ? WHERE id = ?`,
		run.FinishedAt.UTC(), run.Processed, run.Failed, avg, run.ID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun loads a run by id
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		run      Run
		finished sql.NullTime
		avg      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, model, image_dir, allocator, started_at, finished_at, processed, failed, avg_inference_ms
		 FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Model, &run.ImageDir, &run.Allocator, &run.StartedAt, &finished,
			&run.Processed, &run.Failed, &avg)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying run %s: %w", id, err)
	}
	run.FinishedAt = finished.Time
	run.AvgInferenceMs = avg.Float64
	return run, nil
}

// ListImages returns the images recorded for a run in insertion order
func (s *Store) ListImages(ctx context.Context, runID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, COALESCE(output_path, ''), status, COALESCE(inference_ms, 0), COALESCE(error, '')
		 FROM images WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	var (
		images []Image
		ids    []int64
	)
	for rows.Next() {
		var (
			img Image
			id  int64
		)
		if err := rows.Scan(&id, &img.Path, &img.OutputPath, &img.Status, &img.InferenceMs, &img.Error); err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		images = append(images, img)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i, id := range ids {
		dets, err := s.listDetections(ctx, id)
		if err != nil {
			return nil, err
		}
		images[i].Detections = dets
	}
	return images, nil
}

func (s *Store) listDetections(ctx context.Context, imageID int64) ([]Detection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class_id, label, prop, box_left, box_top, box_right, box_bottom
		 FROM detections WHERE image_id = ? ORDER BY id`, imageID)
	if err != nil {
		return nil, fmt.Errorf("querying detections: %w", err)
	}
	defer rows.Close()

	var dets []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ClassID, &d.Label, &d.Prop, &d.Left, &d.Top, &d.Right, &d.Bottom); err != nil {
			return nil, fmt.Errorf("scanning detection: %w", err)
		}
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
