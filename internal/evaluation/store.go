package evaluation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// storeSchema is applied on open. Runs group per-task results so scores can
// be compared across candidate models and code revisions.
const storeSchema = `
CREATE TABLE IF NOT EXISTS eval_runs (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at        TEXT NOT NULL,
    finished_at       TEXT,
    tasks_file        TEXT NOT NULL DEFAULT '',
    candidate_model   TEXT NOT NULL DEFAULT '',
    interviewer_model TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS eval_results (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           INTEGER NOT NULL REFERENCES eval_runs(id),
    task_id          TEXT NOT NULL,
    interview_id     TEXT NOT NULL DEFAULT '',
    score            INTEGER NOT NULL,
    reasoning        TEXT NOT NULL DEFAULT '',
    final_report     TEXT NOT NULL DEFAULT '',
    duration_seconds REAL NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_eval_results_run ON eval_results(run_id);
CREATE INDEX IF NOT EXISTS idx_eval_results_task ON eval_results(task_id);
`

// Store keeps evaluation runs in a local SQLite file for cross-run
// comparison of the same task set.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open eval store: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply eval store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun opens a run row and returns its id for result inserts.
func (s *Store) BeginRun(ctx context.Context, tasksFile, candidateModel, interviewerModel string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO eval_runs (started_at, tasks_file, candidate_model, interviewer_model)
		 VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), tasksFile, candidateModel, interviewerModel)
	if err != nil {
		return 0, fmt.Errorf("insert eval run: %w", err)
	}
	return res.LastInsertId()
}

// RecordResult appends one scored task to a run.
func (s *Store) RecordResult(ctx context.Context, runID int64, res Result, interviewID string, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO eval_results
		 (run_id, task_id, interview_id, score, reasoning, final_report, duration_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.TaskID, interviewID, res.Score, res.Reasoning, res.FinalReport,
		duration.Seconds(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert eval result: %w", err)
	}
	return nil
}

// FinishRun stamps a run as complete.
func (s *Store) FinishRun(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE eval_runs SET finished_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("finish eval run: %w", err)
	}
	return nil
}

// RunSummary aggregates one run for comparison output.
type RunSummary struct {
	RunID          int64
	StartedAt      string
	CandidateModel string
	Tasks          int
	MeanScore      float64
}

// RecentRuns returns the newest runs with their task counts and mean scores,
// newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.started_at, r.candidate_model,
		        COUNT(t.id), COALESCE(AVG(t.score), 0)
		 FROM eval_runs r
		 LEFT JOIN eval_results t ON t.run_id = r.id
		 GROUP BY r.id
		 ORDER BY r.id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query eval runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.RunID, &rs.StartedAt, &rs.CandidateModel, &rs.Tasks, &rs.MeanScore); err != nil {
			return nil, fmt.Errorf("scan eval run: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
