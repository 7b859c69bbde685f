package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillbox/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261001000002CreateSOPAudit creates the append-only sop_audit table.
func Migration20261001000002CreateSOPAudit() db.Migration {
	return db.Migration{
		Version:     20261001000002,
		Description: "Create sop_audit table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS sop_audit (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					step_id TEXT NOT NULL DEFAULT '',
					event TEXT NOT NULL,
					actor TEXT NOT NULL DEFAULT '',
					detail TEXT NOT NULL DEFAULT '',
					at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create sop_audit table")
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sop_audit_run ON sop_audit(run_id, id)`); err != nil {
				return errors.Wrap(err, "failed to create sop_audit run index")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS sop_audit")
			return errors.Wrap(err, "failed to drop sop_audit table")
		},
	}
}
