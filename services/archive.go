package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dinamicdatalab/comments-report/common"
	"github.com/dinamicdatalab/comments-report/models"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var ErrArchive = errors.New("archive failed")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS report_runs (
	id              BIGSERIAL PRIMARY KEY,
	run_id          TEXT NOT NULL UNIQUE,
	started_at      TIMESTAMPTZ NOT NULL,
	cutoff          TIMESTAMPTZ NOT NULL,
	records_read    INTEGER NOT NULL,
	records_kept    INTEGER NOT NULL,
	records_skipped INTEGER NOT NULL,
	columns         TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS report_comments (
	comment_hash  TEXT PRIMARY KEY,
	report_run_id BIGINT NOT NULL REFERENCES report_runs(id),
	url           TEXT,
	username      TEXT,
	red_social    TEXT,
	clasificacion TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	payload       JSONB NOT NULL
);
`

// Archive guarda cada corrida y sus comentarios en PostgreSQL
type Archive struct {
	db     *sql.DB
	logger *common.Logger
}

func NewArchive(ctx context.Context, databaseURL string, logger *common.Logger) (*Archive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to PostgreSQL: %w", ErrArchive, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping PostgreSQL: %w", ErrArchive, err)
	}

	logger.WithStep("archive").Info("Connected to PostgreSQL")
	return NewArchiveWithDB(db, logger), nil
}

func NewArchiveWithDB(db *sql.DB, logger *common.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: schema: %w", ErrArchive, err)
	}
	return nil
}

// SaveRun guarda la corrida y sus comentarios en una sola transacción. Los
// comentarios ya archivados por una corrida anterior no se tocan. Devuelve
// cuántos comentarios nuevos se insertaron.
func (a *Archive) SaveRun(ctx context.Context, run models.RunSummary, comments []models.Comment) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %w", ErrArchive, err)
	}

	// Rollback en caso de pánico, luego se relanza
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	var runRowID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO report_runs (
			run_id, started_at, cutoff, records_read, records_kept, records_skipped, columns
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, run.RunID, run.StartedAt, run.Cutoff, run.RecordsRead, run.RecordsKept,
		run.RecordsSkipped, pq.Array(run.Columns)).Scan(&runRowID)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("%w: failed to insert run: %w", ErrArchive, err)
	}

	inserted := 0
	for i, comment := range comments {
		payload, err := json.Marshal(comment.Fields)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("%w: failed to encode comment #%d: %w", ErrArchive, i+1, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO report_comments (
				comment_hash, report_run_id, url, username, red_social, clasificacion, created_at, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (comment_hash) DO NOTHING
		`, comment.Hash(), runRowID, nullable(comment.Fields.Value("url")),
			nullable(comment.Fields.Value("user")), nullable(comment.Fields.Value("red_social")),
			nullable(comment.Fields.Value("clasificacion")), comment.CreatedAt, string(payload))
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("%w: failed to insert comment #%d: %w", ErrArchive, i+1, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit transaction: %w", ErrArchive, err)
	}

	a.logger.WithStep("archive").WithFields(logrus.Fields{
		"run_id":       run.RunID,
		"report_run":   runRowID,
		"comments":     len(comments),
		"new_comments": inserted,
	}).Info("Run archived in PostgreSQL")

	return inserted, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
