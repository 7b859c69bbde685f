package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000005CreateScheduledJobs creates the cron/at job table.
func Migration20261001000005CreateScheduledJobs() db.Migration {
	return db.Migration{
		Version:     20261001000005,
		Description: "Create scheduled_jobs table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS scheduled_jobs (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					command TEXT NOT NULL,
					cron TEXT NOT NULL DEFAULT '',
					run_at DATETIME,
					next_run DATETIME,
					last_run DATETIME,
					last_status TEXT NOT NULL DEFAULT '',
					last_output TEXT NOT NULL DEFAULT '',
					enabled INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create scheduled_jobs table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS scheduled_jobs")
			return errors.Wrap(err, "failed to drop scheduled_jobs table")
		},
	}
}
