package daemon

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signetai/signet/capture"
	"github.com/signetai/signet/config"
)

func newTestPersister(t *testing.T) (*perceptionPersister, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	manager := capture.NewManager(config.PerceptionConfig{}, zap.NewNop().Sugar())
	p := newPerceptionPersister(db, manager, config.PerceptionConfig{MaxRetentionDays: 7},
		zap.NewNop().Sugar())
	return p, mock
}

// With no captures buffered, a flush is just the retention sweep over both
// perception tables.
func TestPersisterFlushRetentionSweep(t *testing.T) {
	p, mock := newTestPersister(t)

	mock.ExpectExec(`DELETE FROM perception_screen`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM perception_terminal`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.flush(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersisterFlushSurfacesDBErrors(t *testing.T) {
	p, mock := newTestPersister(t)

	mock.ExpectExec(`DELETE FROM perception_screen`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(assert.AnError)

	assert.Error(t, p.flush(context.Background()))
}

func TestRecordConversationInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	d := &Daemon{database: db, logger: zap.NewNop().Sugar()}

	mock.ExpectExec(`INSERT INTO conversations`).
		WithArgs(sqlmock.AnyArg(), "claude-code", "sess-9",
			sqlmock.AnyArg(), sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(1, 1))

	d.recordConversation(context.Background(), sessionEndRequest{
		Harness:   "claude-code",
		SessionID: "sess-9",
	}, 2)
	assert.NoError(t, mock.ExpectationsWereMet())

	// A failed insert is logged, never fatal: the hook response already
	// went out.
	mock.ExpectExec(`INSERT INTO conversations`).WillReturnError(assert.AnError)
	d.recordConversation(context.Background(), sessionEndRequest{Harness: "x"}, 0)
}
