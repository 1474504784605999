package scanner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/events"
)

// newMockDB creates a GORM DB backed by go-sqlmock for driving query
// failures that sqlite cannot produce on demand.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db, mock
}

func TestSchedulerScansDueDirectories(t *testing.T) {
	db := setupTestDB(t)

	staleTime := time.Now().Add(-20 * time.Minute)
	freshTime := time.Now().Add(-time.Minute)

	neverScanned := &database.Directory{Path: "/media/one", ScanInterval: 10 * time.Minute}
	stale := &database.Directory{Path: "/media/two", ScanInterval: 10 * time.Minute, LastScannedAt: &staleTime}
	fresh := &database.Directory{Path: "/media/three", ScanInterval: 10 * time.Minute, LastScannedAt: &freshTime}
	disabled := &database.Directory{Path: "/media/four", ScanInterval: 0}
	busy := &database.Directory{Path: "/media/five", ScanInterval: 10 * time.Minute, Scanning: true}
	for _, d := range []*database.Directory{neverScanned, stale, fresh, disabled, busy} {
		require.NoError(t, db.Create(d).Error)
	}

	var scanned []uint
	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		assert.Equal(t, "scheduled", trigger)
		scanned = append(scanned, directoryID)
		return ScanDelta{}, nil
	}

	s := NewScheduler(db, scan, &MockEventBus{}, time.Hour, nil)
	require.NoError(t, s.Tick(context.Background()))

	assert.ElementsMatch(t, []uint{neverScanned.ID, stale.ID}, scanned)
}

func TestSchedulerContainsPerDirectoryFailures(t *testing.T) {
	db := setupTestDB(t)

	first := &database.Directory{Path: "/media/one", ScanInterval: time.Minute}
	second := &database.Directory{Path: "/media/two", ScanInterval: time.Minute}
	require.NoError(t, db.Create(first).Error)
	require.NoError(t, db.Create(second).Error)

	var attempted []uint
	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		attempted = append(attempted, directoryID)
		if directoryID == first.ID {
			return ScanDelta{}, fmt.Errorf("disk fell over")
		}
		return ScanDelta{}, nil
	}

	s := NewScheduler(db, scan, &MockEventBus{}, time.Hour, nil)
	require.NoError(t, s.Tick(context.Background()), "one bad directory must not fail the tick")

	assert.ElementsMatch(t, []uint{first.ID, second.ID}, attempted)
	assert.Equal(t, 0, s.Status().ConsecutiveFailures, "directory failures do not count toward the breaker")
}

func TestSchedulerTickFailureTripsBreaker(t *testing.T) {
	db, mock := newMockDB(t)
	bus := &MockEventBus{}
	breaker := NewCircuitBreaker(3, time.Minute)

	var scans int
	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		scans++
		return ScanDelta{}, nil
	}
	s := NewScheduler(db, scan, bus, time.Minute, breaker)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT \* FROM "directories"`).WillReturnError(fmt.Errorf("connection refused"))
		err := s.Tick(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, 2, s.Status().ConsecutiveFailures)

	mock.ExpectQuery(`SELECT \* FROM "directories"`).WillReturnError(fmt.Errorf("connection refused"))
	err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	assert.True(t, s.Status().CircuitOpen)
	assert.Zero(t, scans)
	assert.Contains(t, bus.EventTypesForTest(), events.EventCircuitOpened)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerSuccessResetsStreak(t *testing.T) {
	db, mock := newMockDB(t)
	breaker := NewCircuitBreaker(3, time.Minute)
	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		return ScanDelta{}, nil
	}
	s := NewScheduler(db, scan, &MockEventBus{}, time.Minute, breaker)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT \* FROM "directories"`).WillReturnError(fmt.Errorf("connection refused"))
		require.Error(t, s.Tick(context.Background()))
	}
	assert.Equal(t, 2, s.Status().ConsecutiveFailures)

	mock.ExpectQuery(`SELECT \* FROM "directories"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "scan_interval", "scanning"}))
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, 0, s.Status().ConsecutiveFailures)
	assert.False(t, s.Status().CircuitOpen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerStartStop(t *testing.T) {
	db := setupTestDB(t)
	bus := &MockEventBus{}
	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		return ScanDelta{}, nil
	}

	s := NewScheduler(db, scan, bus, time.Hour, nil)
	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.Error(t, s.Start(), "double start is rejected")

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // stopping twice is harmless

	types := bus.EventTypesForTest()
	assert.Contains(t, types, events.EventSchedulerStarted)
	assert.Contains(t, types, events.EventSchedulerStopped)
}

func TestSchedulerStartClearsTrippedBreaker(t *testing.T) {
	db := setupTestDB(t)
	breaker := NewCircuitBreaker(1, time.Minute)
	require.True(t, breaker.RecordFailure())
	require.True(t, breaker.Open())

	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		return ScanDelta{}, nil
	}
	s := NewScheduler(db, scan, &MockEventBus{}, time.Hour, breaker)

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	assert.False(t, s.Status().CircuitOpen, "manual start closes the circuit")
}

func TestSchedulerLoopHaltsWhenBreakerTrips(t *testing.T) {
	db, mock := newMockDB(t)
	breaker := NewCircuitBreaker(3, time.Minute)
	scan := func(ctx context.Context, directoryID uint, trigger string) (ScanDelta, error) {
		return ScanDelta{}, nil
	}

	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT \* FROM "directories"`).WillReturnError(fmt.Errorf("connection refused"))
	}

	s := NewScheduler(db, scan, &MockEventBus{}, 10*time.Millisecond, breaker)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 10*time.Millisecond,
		"loop stops on its own once the breaker trips")
	assert.True(t, s.Status().CircuitOpen)
}
