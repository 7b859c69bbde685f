package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000008CreateVoiceCalls creates the table backing the mock voice provider.
func Migration20261001000008CreateVoiceCalls() db.Migration {
	return db.Migration{
		Version:     20261001000008,
		Description: "Create voice_calls table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS voice_calls (
					id TEXT PRIMARY KEY,
					provider TEXT NOT NULL,
					to_number TEXT NOT NULL,
					from_number TEXT NOT NULL,
					message TEXT NOT NULL,
					type TEXT NOT NULL,
					status TEXT NOT NULL,
					duration INTEGER NOT NULL DEFAULT 0,
					webhook_url TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create voice_calls table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS voice_calls")
			return errors.Wrap(err, "failed to drop voice_calls table")
		},
	}
}
