package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/banshee-data/hfray/internal/fan"
	"github.com/banshee-data/hfray/internal/raytrace"
	"github.com/banshee-data/hfray/internal/refraction"
	"github.com/banshee-data/hfray/internal/timeutil"
	"github.com/banshee-data/hfray/internal/version"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("fan run not found")

// connection pragmas applied through the DSN so every pooled connection
// gets them.
var pragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

// FanStore provides persistence for traced fans.
type FanStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*FanStore, error) {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &FanStore{db: db, clock: timeutil.RealClock{}}, nil
}

// SetClock replaces the clock used to stamp runs.
func (s *FanStore) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database.
func (s *FanStore) Close() error { return s.db.Close() }

// Run is a stored fan.
type Run struct {
	RunID     string
	CreatedAt time.Time
	Title     string
	Request   fan.Request
	Workers   int
	Elapsed   time.Duration
	Version   string
	Rays      []Ray
}

// Ray is one stored ray. Path is empty unless paths were saved.
type Ray struct {
	Index     int
	Elevation float64
	Data      raytrace.RayData
	Path      raytrace.RayRecord
}

// RunSummary is a run without its rays.
type RunSummary struct {
	RunID     string
	CreatedAt time.Time
	Title     string
	NumRays   int
	Bearing   float64
}

// SaveRun persists a fan and returns its generated run id. Path points are
// stored when res.Paths is populated.
func (s *FanStore) SaveRun(ctx context.Context, title string, req fan.Request, res *fan.Result) (string, error) {
	if res == nil || len(res.Rays) != len(req.Elevations) {
		return "", fmt.Errorf("result does not match request")
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	runID := uuid.New().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fan_runs (
			run_id, created_at, origin_lat, origin_lon, bearing, nhops,
			workers, elapsed_ns, request_json, title, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.clock.Now().UnixNano(), req.OriginLat, req.OriginLon, req.Bearing, req.NHops,
		res.Workers, res.Elapsed.Nanoseconds(), string(reqJSON), title, version.String(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, rd := range res.Rays {
		if err := insertRay(ctx, tx, runID, i, req.Elevations[i], rd); err != nil {
			return "", err
		}
		if i < len(res.Paths) {
			if err := insertPath(ctx, tx, runID, i, res.Paths[i]); err != nil {
				return "", err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return runID, nil
}

func insertRay(ctx context.Context, tx *sql.Tx, runID string, i int, elevation float64, rd raytrace.RayData) error {
	hopsJSON, err := json.Marshal(rd.Hops)
	if err != nil {
		return fmt.Errorf("marshal hops for ray %d: %w", i, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fan_rays (
			run_id, ray_index, elevation, frequency, status, status_name,
			ground_range, group_path, phase_path, geometric_path,
			deviative_abs, nondeviative_abs, hops_completed, final_mode,
			doppler_shift, has_doppler, final_elevation, apogee, tec,
			landing_lat, landing_lon, hops_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, i, elevation, rd.Frequency, int(rd.Status), rd.Status.String(),
		rd.GroundRange, rd.GroupPath, rd.PhasePath, rd.GeometricPath,
		rd.DeviativeAbsorption, rd.NonDeviativeAbsorption, rd.HopsCompleted, int(rd.FinalMode),
		rd.DopplerShift, rd.HasDoppler, rd.FinalElevation, rd.Apogee, rd.TEC,
		rd.LandingLat, rd.LandingLon, string(hopsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert ray %d: %w", i, err)
	}
	return nil
}

func insertPath(ctx context.Context, tx *sql.Tx, runID string, i int, rec raytrace.RayRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fan_path_points (
			run_id, ray_index, seq, ground_range, height, group_path, phase_path, hop, event
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare path insert: %w", err)
	}
	defer stmt.Close()

	for seq, st := range rec {
		if _, err := stmt.ExecContext(ctx, runID, i, seq, st.GroundRange, st.Height,
			st.GroupPath, st.PhasePath, st.Hop, int(st.Event)); err != nil {
			return fmt.Errorf("insert path point %d of ray %d: %w", seq, i, err)
		}
	}
	return nil
}

// GetRun returns a stored run with its rays and any saved paths.
func (s *FanStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		run       Run
		createdAt int64
		elapsed   int64
		reqJSON   string
		title     sql.NullString
		ver       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, workers, elapsed_ns, request_json, title, version
		FROM fan_runs
		WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &createdAt, &run.Workers, &elapsed, &reqJSON, &title, &ver)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.Elapsed = time.Duration(elapsed)
	run.Title = title.String
	run.Version = ver.String
	if err := json.Unmarshal([]byte(reqJSON), &run.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request for run %s: %w", runID, err)
	}

	run.Rays, err = s.rays(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.paths(ctx, runID, run.Rays); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *FanStore) rays(ctx context.Context, runID string) ([]Ray, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ray_index, elevation, frequency, status,
		       ground_range, group_path, phase_path, geometric_path,
		       deviative_abs, nondeviative_abs, hops_completed, final_mode,
		       doppler_shift, has_doppler, final_elevation, apogee, tec,
		       landing_lat, landing_lon, hops_json
		FROM fan_rays
		WHERE run_id = ?
		ORDER BY ray_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query rays: %w", err)
	}
	defer rows.Close()

	var rays []Ray
	for rows.Next() {
		var (
			r        Ray
			status   int
			mode     int
			hopsJSON sql.NullString
		)
		d := &r.Data
		if err := rows.Scan(&r.Index, &r.Elevation, &d.Frequency, &status,
			&d.GroundRange, &d.GroupPath, &d.PhasePath, &d.GeometricPath,
			&d.DeviativeAbsorption, &d.NonDeviativeAbsorption, &d.HopsCompleted, &mode,
			&d.DopplerShift, &d.HasDoppler, &d.FinalElevation, &d.Apogee, &d.TEC,
			&d.LandingLat, &d.LandingLon, &hopsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan ray: %w", err)
		}
		d.Status = raytrace.Status(status)
		d.FinalMode = refraction.Mode(mode)
		d.Absorption = d.DeviativeAbsorption + d.NonDeviativeAbsorption
		d.InitialElevation = r.Elevation
		if hopsJSON.Valid && hopsJSON.String != "null" {
			if err := json.Unmarshal([]byte(hopsJSON.String), &d.Hops); err != nil {
				return nil, fmt.Errorf("unmarshal hops for ray %d: %w", r.Index, err)
			}
		}
		rays = append(rays, r)
	}
	return rays, rows.Err()
}

func (s *FanStore) paths(ctx context.Context, runID string, rays []Ray) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ray_index, ground_range, height, group_path, phase_path, hop, event
		FROM fan_path_points
		WHERE run_id = ?
		ORDER BY ray_index, seq`, runID)
	if err != nil {
		return fmt.Errorf("query path points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			i     int
			st    raytrace.RayState
			event int
		)
		if err := rows.Scan(&i, &st.GroundRange, &st.Height, &st.GroupPath, &st.PhasePath, &st.Hop, &event); err != nil {
			return fmt.Errorf("scan path point: %w", err)
		}
		if i < 0 || i >= len(rays) {
			return fmt.Errorf("path point for unknown ray %d", i)
		}
		st.Event = raytrace.Status(event)
		rays[i].Path = append(rays[i].Path, st)
	}
	return rows.Err()
}

// ListRuns returns the most recent runs first.
func (s *FanStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.created_at, r.title, r.bearing,
		       (SELECT COUNT(*) FROM fan_rays y WHERE y.run_id = r.run_id)
		FROM fan_runs r
		ORDER BY r.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			rs        RunSummary
			createdAt int64
			title     sql.NullString
		)
		if err := rows.Scan(&rs.RunID, &createdAt, &title, &rs.Bearing, &rs.NumRays); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		rs.CreatedAt = time.Unix(0, createdAt).UTC()
		rs.Title = title.String
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and everything stored under it.
func (s *FanStore) DeleteRun(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM fan_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
