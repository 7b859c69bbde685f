// Package migrations contains all database migrations for skillbox.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jingkaihe/skillbox/pkg/db"
)

// All returns all registered migrations in the correct order.
// New migrations should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20261001000001CreateSOPRuns(),
		Migration20261001000002CreateSOPAudit(),
		Migration20261001000003CreateRateLimitHits(),
		Migration20261001000004CreateQueueItems(),
		Migration20261001000005CreateScheduledJobs(),
		Migration20261001000006CreateHeartbeats(),
		Migration20261001000007CreateCodeIndex(),
		Migration20261001000008CreateVoiceCalls(),
	}
}

// Open opens the database at path and brings it to the latest schema.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	return db.OpenWithMigrations(ctx, path, All())
}
