package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000007CreateCodeIndex creates the symbol index table.
func Migration20261001000007CreateCodeIndex() db.Migration {
	return db.Migration{
		Version:     20261001000007,
		Description: "Create code_index table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS code_index (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					root TEXT NOT NULL,
					path TEXT NOT NULL,
					line INTEGER NOT NULL,
					kind TEXT NOT NULL,
					name TEXT NOT NULL,
					language TEXT NOT NULL,
					signature TEXT NOT NULL DEFAULT ''
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create code_index table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_code_index_name ON code_index(name)`); err != nil {
				return errors.Wrap(err, "failed to create code_index name index")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_code_index_root ON code_index(root)`); err != nil {
				return errors.Wrap(err, "failed to create code_index root index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS code_index")
			return errors.Wrap(err, "failed to drop code_index table")
		},
	}
}
