package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000001CreateSOPRuns creates the sop_runs table.
func Migration20261001000001CreateSOPRuns() db.Migration {
	return db.Migration{
		Version:     20261001000001,
		Description: "Create sop_runs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS sop_runs (
					id TEXT PRIMARY KEY,
					sop TEXT NOT NULL,
					sop_version TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					current_step INTEGER NOT NULL DEFAULT 0,
					definition TEXT NOT NULL,
					steps TEXT NOT NULL,
					inputs TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create sop_runs table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sop_runs_status ON sop_runs(status, created_at DESC)`); err != nil {
				return errors.Wrap(err, "failed to create sop_runs status index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS sop_runs")
			return errors.Wrap(err, "failed to drop sop_runs table")
		},
	}
}
