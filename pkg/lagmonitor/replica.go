package lagmonitor

import (
	"context"
	"database/sql"
	"time"
)

// ReplicaLagQuery returns the apply delay in milliseconds of the most recent
// transaction applied by any worker on a MySQL 8.0+ replica. It returns 0
// when the server is not a replica.
const ReplicaLagQuery = `SELECT IFNULL(CEIL(TIMESTAMPDIFF(MICROSECOND,
	MAX(LAST_APPLIED_TRANSACTION_ORIGINAL_COMMIT_TIMESTAMP),
	MAX(LAST_APPLIED_TRANSACTION_END_APPLY_TIMESTAMP))/1000), 0) AS lag_ms
FROM performance_schema.replication_applier_status_by_worker`

// Replica polls a single MySQL replica.
type Replica struct {
	Name    string
	replica *sql.DB
	// Timeout bounds a single WaitForReplication call. Zero means wait
	// until the context is cancelled.
	Timeout time.Duration
}

var _ Monitor = &Replica{}

func NewReplica(name string, replica *sql.DB, timeout time.Duration) *Replica {
	return &Replica{
		Name:    name,
		replica: replica,
		Timeout: timeout,
	}
}

func (m *Replica) WaitForReplication(ctx context.Context, cfg *WaitConfig) (*Lag, error) {
	return pollUntilCaughtUp(ctx, m.Name, cfg, m.Timeout, m.measure)
}

func (m *Replica) measure(ctx context.Context) (time.Duration, error) {
	return queryLag(ctx, m.replica)
}

func queryLag(ctx context.Context, db *sql.DB) (time.Duration, error) {
	var lagMs sql.NullInt64
	if err := db.QueryRowContext(ctx, ReplicaLagQuery).Scan(&lagMs); err != nil {
		return 0, err
	}
	if !lagMs.Valid || lagMs.Int64 < 0 {
		return 0, nil
	}
	return time.Duration(lagMs.Int64) * time.Millisecond, nil
}
