package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000006CreateHeartbeats creates the heartbeats table.
func Migration20261001000006CreateHeartbeats() db.Migration {
	return db.Migration{
		Version:     20261001000006,
		Description: "Create heartbeats table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS heartbeats (
					name TEXT PRIMARY KEY,
					pid INTEGER NOT NULL DEFAULT 0,
					note TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					beat_at DATETIME NOT NULL,
					beats INTEGER NOT NULL DEFAULT 0
				)
			`)
			return errors.Wrap(err, "failed to create heartbeats table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS heartbeats")
			return errors.Wrap(err, "failed to drop heartbeats table")
		},
	}
}
