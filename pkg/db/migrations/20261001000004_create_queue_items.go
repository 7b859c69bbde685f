package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000004CreateQueueItems creates the work queue table.
func Migration20261001000004CreateQueueItems() db.Migration {
	return db.Migration{
		Version:     20261001000004,
		Description: "Create queue_items table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS queue_items (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT NOT NULL UNIQUE,
					topic TEXT NOT NULL,
					payload TEXT NOT NULL,
					status TEXT NOT NULL,
					attempts INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create queue_items table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_queue_items_topic ON queue_items(topic, status, seq)`); err != nil {
				return errors.Wrap(err, "failed to create queue_items index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS queue_items")
			return errors.Wrap(err, "failed to drop queue_items table")
		},
	}
}
