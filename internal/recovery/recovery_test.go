package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/store"
)

type fakeResumer struct {
	mu       sync.Mutex
	armed    map[int64]fsm.State
	dispatch map[int64]fsm.State
}

func newFakeResumer() *fakeResumer {
	return &fakeResumer{
		armed:    make(map[int64]fsm.State),
		dispatch: make(map[int64]fsm.State),
	}
}

func (f *fakeResumer) ArmTimer(orderID int64, state fsm.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[orderID] = state
}

func (f *fakeResumer) Dispatch(orderID int64, state fsm.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatch[orderID] = state
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.Must(uuid.NewV4()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	return store.New(db)
}

func seedRuntime(t *testing.T, s *store.Store, orderID int64, state fsm.State) *domain.FSMRuntime {
	t.Helper()
	rt := &domain.FSMRuntime{
		RuntimeID:    uuid.Must(uuid.NewV4()),
		OrderID:      orderID,
		CurrentState: string(state),
		KioskID:      "KIOSK-01",
	}
	require.NoError(t, s.DB().Create(rt).Error)
	return rt
}

func TestRecoverRestoresNonTerminalOrders(t *testing.T) {
	s := newTestStore(t)
	resumer := newFakeResumer()

	seedRuntime(t, s, 1, fsm.StateInit)
	seedRuntime(t, s, 2, fsm.StateAwaitingPayment)
	seedRuntime(t, s, 3, fsm.StateAwaitingKDS)
	seedRuntime(t, s, 4, fsm.StateSentToKDS)
	seedRuntime(t, s, 5, fsm.StateCanceledByUser)

	r := NewRunner(s, resumer)
	require.NoError(t, r.Recover(context.Background()))

	assert.Len(t, resumer.dispatch, 3, "only non-terminal orders re-dispatched")
	assert.Equal(t, fsm.StateInit, resumer.dispatch[1])
	assert.Equal(t, fsm.StateAwaitingPayment, resumer.dispatch[2])
	assert.Equal(t, fsm.StateAwaitingKDS, resumer.dispatch[3])
	assert.NotContains(t, resumer.dispatch, int64(4))
	assert.NotContains(t, resumer.dispatch, int64(5))

	assert.Equal(t, fsm.StateAwaitingPayment, resumer.armed[2])
	assert.Equal(t, fsm.StateAwaitingKDS, resumer.armed[3])

	for _, orderID := range []int64{1, 2, 3} {
		chain, err := s.LifecycleChain(context.Background(), orderID)
		require.NoError(t, err)
		require.Len(t, chain, 1)
		entry := chain[0]
		require.NotNil(t, entry.FromState)
		assert.Equal(t, entry.ToState, *entry.FromState, "recovery marker keeps from == to")
		assert.Nil(t, entry.TriggerEvent)
		assert.Equal(t, domain.ActorSystem, entry.ActorType)
		require.NotNil(t, entry.Comment)
		assert.Equal(t, "recovery", *entry.Comment)
	}

	chain, err := s.LifecycleChain(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, chain, "terminal orders left alone")
}

func TestRecoverWithNothingToDo(t *testing.T) {
	s := newTestStore(t)
	resumer := newFakeResumer()

	r := NewRunner(s, resumer)
	require.NoError(t, r.Recover(context.Background()))
	assert.Empty(t, resumer.dispatch)
	assert.Empty(t, resumer.armed)
}

func TestRunBlocksUntilStopped(t *testing.T) {
	s := newTestStore(t)
	seedRuntime(t, s, 1, fsm.StateInit)
	resumer := newFakeResumer()

	r := NewRunner(s, resumer)
	assert.Equal(t, "Recovery", r.String())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		resumer.mu.Lock()
		defer resumer.mu.Unlock()
		return len(resumer.dispatch) == 1
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	r.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
