package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000003CreateRateLimitHits creates the sliding window hit log.
// hit_at is stored as unix nanoseconds so window arithmetic stays in SQL.
func Migration20261001000003CreateRateLimitHits() db.Migration {
	return db.Migration{
		Version:     20261001000003,
		Description: "Create rate_limit_hits table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS rate_limit_hits (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					key TEXT NOT NULL,
					hit_at INTEGER NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create rate_limit_hits table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_rate_limit_hits_key ON rate_limit_hits(key, hit_at)`); err != nil {
				return errors.Wrap(err, "failed to create rate_limit_hits index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS rate_limit_hits")
			return errors.Wrap(err, "failed to drop rate_limit_hits table")
		},
	}
}
