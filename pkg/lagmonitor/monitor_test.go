package lagmonitor

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/block/replgate/pkg/testutils"
	"github.com/block/replgate/pkg/utils"
	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, db.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock
}

func expectLag(mock sqlmock.Sqlmock, lagMs ...int64) {
	for _, ms := range lagMs {
		mock.ExpectQuery(ReplicaLagQuery).WillReturnRows(sqlmock.NewRows([]string{"lag_ms"}).AddRow(ms))
	}
}

func TestNoopMonitor(t *testing.T) {
	m := &Noop{}
	lag, err := m.WaitForReplication(t.Context(), NewWaitConfig(0, time.Second, nil))
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), lag.Delay)
}

func TestMockMonitorSettles(t *testing.T) {
	m := NewMock(6*time.Second, 4*time.Second, 3*time.Second)
	cfg := NewWaitConfig(5*time.Second, time.Millisecond, slog.Default())

	lag, err := m.WaitForReplication(t.Context(), cfg)
	assert.NoError(t, err)
	assert.Equal(t, 4*time.Second, lag.Delay)
	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, 2, m.Polls())

	// The last reading repeats.
	lag, err = m.WaitForReplication(t.Context(), cfg)
	assert.NoError(t, err)
	assert.Equal(t, 3*time.Second, lag.Delay)
	lag, err = m.WaitForReplication(t.Context(), cfg)
	assert.NoError(t, err)
	assert.Equal(t, 3*time.Second, lag.Delay)
	assert.Equal(t, 3, m.Calls())
}

func TestMockMonitorError(t *testing.T) {
	errUnreachable := errors.New("backend unreachable")
	m := &Mock{Readings: []MockReading{{Err: errUnreachable}}}
	_, err := m.WaitForReplication(t.Context(), NewWaitConfig(time.Second, time.Millisecond, nil))
	assert.ErrorIs(t, err, errUnreachable)
}

func TestMockMonitorRespectsContext(t *testing.T) {
	m := &Mock{Delay: time.Minute}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	start := time.Now()
	_, err := m.WaitForReplication(ctx, NewWaitConfig(time.Second, time.Millisecond, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPollUntilCaughtUpTimeout(t *testing.T) {
	measure := func(context.Context) (time.Duration, error) {
		return 10 * time.Second, nil
	}
	start := time.Now()
	_, err := pollUntilCaughtUp(t.Context(), "always-behind", NewWaitConfig(time.Second, 5*time.Millisecond, nil), 30*time.Millisecond, measure)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorContains(t, err, "always-behind")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPollUntilCaughtUpZeroInterval(t *testing.T) {
	// A zero poll interval falls back to one second between readings,
	// so a monitor that is already caught up returns on the first reading.
	polls := 0
	measure := func(context.Context) (time.Duration, error) {
		polls++
		return 0, nil
	}
	lag, err := pollUntilCaughtUp(t.Context(), "caught-up", &WaitConfig{MaxLag: time.Second}, 0, measure)
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), lag.Delay)
	assert.Equal(t, 1, polls)
}

func TestReplicaMonitor(t *testing.T) {
	db, mock := newMockDB(t)
	expectLag(mock, 6000, 4000)

	m := NewReplica("sync queue", db, 0)
	lag, err := m.WaitForReplication(t.Context(), NewWaitConfig(5*time.Second, time.Millisecond, nil))
	assert.NoError(t, err)
	assert.Equal(t, 4*time.Second, lag.Delay)
}

func TestReplicaMonitorNullLag(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(ReplicaLagQuery).WillReturnRows(sqlmock.NewRows([]string{"lag_ms"}).AddRow(nil))

	m := NewReplica("not-a-replica", db, 0)
	lag, err := m.WaitForReplication(t.Context(), NewWaitConfig(0, time.Millisecond, nil))
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), lag.Delay)
}

func TestReplicaMonitorQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	errConnLost := errors.New("connection lost")
	mock.ExpectQuery(ReplicaLagQuery).WillReturnError(errConnLost)

	m := NewReplica("sync queue", db, 0)
	_, err := m.WaitForReplication(t.Context(), NewWaitConfig(5*time.Second, time.Millisecond, nil))
	assert.ErrorIs(t, err, errConnLost)
	assert.ErrorContains(t, err, "sync queue")
}

func TestShardedMonitorReportsMaxLag(t *testing.T) {
	db1, mock1 := newMockDB(t)
	db2, mock2 := newMockDB(t)
	// Round one: shard2 is behind. Round two: both within budget.
	expectLag(mock1, 100, 200)
	expectLag(mock2, 9000, 700)

	m := NewSharded("xdb blobstore", map[string]*sql.DB{"shard1": db1, "shard2": db2}, 0)
	assert.Equal(t, []string{"shard1", "shard2"}, m.Shards())
	lag, err := m.WaitForReplication(t.Context(), NewWaitConfig(time.Second, time.Millisecond, nil))
	assert.NoError(t, err)
	assert.Equal(t, 700*time.Millisecond, lag.Delay)
}

func TestShardedMonitorShardError(t *testing.T) {
	db1, mock1 := newMockDB(t)
	mock1.ExpectQuery(ReplicaLagQuery).WillReturnError(errors.New("too many connections"))

	m := NewSharded("xdb blobstore", map[string]*sql.DB{"shard1": db1}, 0)
	_, err := m.WaitForReplication(t.Context(), NewWaitConfig(time.Second, time.Millisecond, nil))
	assert.ErrorContains(t, err, "shard shard1")
}

func TestReplicaMonitorIntegration(t *testing.T) {
	replicaDSN := testutils.ReplicaDSN()
	if replicaDSN == "" {
		t.Skip("skipping test because REPLICA_DSN not set")
	}
	db, err := sql.Open("mysql", replicaDSN)
	require.NoError(t, err)
	defer utils.CloseAndLog(db)

	m := NewReplica("replica", db, 10*time.Second)
	lag, err := m.WaitForReplication(t.Context(), NewWaitConfig(60*time.Second, 100*time.Millisecond, nil))
	assert.NoError(t, err) // there is no activity, so it should be caught up
	assert.Less(t, lag.Delay, 60*time.Second)
}
