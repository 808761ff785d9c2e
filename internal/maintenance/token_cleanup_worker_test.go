package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	tokendomain "authz/internal/core/domain/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBlacklistRepo struct {
	deleteCalls atomic.Int32
	deletedN    int64
	err         error
}

func (f *fakeBlacklistRepo) Put(ctx context.Context, entry *tokendomain.BlacklistEntry) error {
	return nil
}
func (f *fakeBlacklistRepo) GetByJTI(ctx context.Context, jti string) (*tokendomain.BlacklistEntry, error) {
	return nil, nil
}
func (f *fakeBlacklistRepo) GetEmergencyEntry(ctx context.Context, userID uuid.UUID) (*tokendomain.BlacklistEntry, error) {
	return nil, nil
}
func (f *fakeBlacklistRepo) DeleteExpired(ctx context.Context) (int64, error) {
	f.deleteCalls.Add(1)
	return f.deletedN, f.err
}

func TestTokenCleanupWorker_RunsImmediatelyOnStart(t *testing.T) {
	repo := &fakeBlacklistRepo{deletedN: 3}
	w := NewTokenCleanupWorker(repo, time.Hour, testLogger())

	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool {
		return repo.deleteCalls.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestTokenCleanupWorker_RunsOnEveryInterval(t *testing.T) {
	repo := &fakeBlacklistRepo{}
	w := NewTokenCleanupWorker(repo, 10*time.Millisecond, testLogger())

	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool {
		return repo.deleteCalls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestTokenCleanupWorker_StopWaitsForInFlightSweep(t *testing.T) {
	repo := &fakeBlacklistRepo{}
	w := NewTokenCleanupWorker(repo, time.Hour, testLogger())
	w.Start()
	w.Stop()
	assert.GreaterOrEqual(t, repo.deleteCalls.Load(), int32(1))
}

func TestTokenCleanupWorker_ToleratesRepositoryError(t *testing.T) {
	repo := &fakeBlacklistRepo{err: assert.AnError}
	w := NewTokenCleanupWorker(repo, time.Hour, testLogger())
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool {
		return repo.deleteCalls.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}
