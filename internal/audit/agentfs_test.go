package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu       sync.Mutex
	records  []Record
	attempts int
	fail     bool
	failOn   int // номер попытки, которая вернет ошибку
	block    chan struct{}
}

func (m *memoryStore) WriteBatch(_ context.Context, records []Record) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.fail || m.attempts == m.failOn {
		return errors.New("disk full")
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryStore) Last(context.Context) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return Record{}, false, nil
	}
	return m.records[len(m.records)-1], true, nil
}

func (m *memoryStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *memoryStore) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

type countingObserver struct {
	drops atomic.Int32
}

func (o *countingObserver) ObserveAuditBuffer(int) {}
func (o *countingObserver) ObserveAuditDrop()      { o.drops.Add(1) }

func TestAgentFS_OrdersAndChainsRecords(t *testing.T) {
	store := &memoryStore{}
	fs := NewAgentFS(store, Options{BatchSize: 3, FlushInterval: 10 * time.Millisecond}, nil, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))

	for i := 0; i < 10; i++ {
		fs.Log(Record{Identity: "42", MessageID: fmt.Sprintf("m%d", i), Decision: DecisionAllowed, Outcome: OutcomeSuccess})
	}
	fs.Stop()

	records := store.all()
	require.Len(t, records, 10)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Seq)
		assert.Equal(t, fmt.Sprintf("m%d", i), r.MessageID)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Timestamp.IsZero())
	}
	assert.Equal(t, GenesisHash, records[0].PrevHash)
	assert.NoError(t, VerifyChain(records))
}

func TestAgentFS_ContinuesChainAfterRestart(t *testing.T) {
	store := &memoryStore{}

	first := NewAgentFS(store, Options{}, nil, zap.NewNop())
	require.NoError(t, first.Start(context.Background()))
	first.Log(Record{Identity: "42", Decision: DecisionDenied, Outcome: OutcomeNone})
	first.Log(Record{Identity: "42", Decision: DecisionDenied, Outcome: OutcomeNone})
	first.Stop()

	second := NewAgentFS(store, Options{}, nil, zap.NewNop())
	require.NoError(t, second.Start(context.Background()))
	second.Log(Record{Identity: "99", Decision: DecisionAllowed, Outcome: OutcomeSuccess})
	second.Stop()

	records := store.all()
	require.Len(t, records, 3)
	assert.Equal(t, int64(3), records[2].Seq)
	assert.NoError(t, VerifyChain(records))
}

func TestAgentFS_ShedsLoadWhenBufferIsFull(t *testing.T) {
	store := &memoryStore{block: make(chan struct{})}
	obs := &countingObserver{}
	fs := NewAgentFS(store, Options{BufferSize: 2, BatchSize: 1, FlushInterval: time.Hour}, obs, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			fs.Log(Record{Identity: "42"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	assert.Positive(t, obs.drops.Load())

	close(store.block)
	fs.Stop()
	assert.Equal(t, 20, len(store.all())+int(obs.drops.Load()))
}

func (m *memoryStore) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func TestAgentFS_StoreFailureDoesNotStopWorker(t *testing.T) {
	store := &memoryStore{fail: true}
	fs := NewAgentFS(store, Options{BatchSize: 1}, nil, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))

	fs.Log(Record{Identity: "42"})
	require.Eventually(t, func() bool { return store.calls() >= 1 }, time.Second, 5*time.Millisecond)

	store.setFail(false)
	fs.Log(Record{Identity: "42"})
	fs.Stop()

	// неудачная пачка не теряется, а дописывается вместе со следующей
	records := store.all()
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, int64(2), records[1].Seq)
	assert.NoError(t, VerifyChain(records))
}

func TestAgentFS_SingleFailedWriteKeepsChainIntact(t *testing.T) {
	store := &memoryStore{failOn: 2}
	fs := NewAgentFS(store, Options{BatchSize: 1, FlushInterval: time.Hour}, nil, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))

	for i := 0; i < 3; i++ {
		fs.Log(Record{Identity: "42", MessageID: fmt.Sprintf("m%d", i)})
	}
	fs.Stop()

	records := store.all()
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Seq)
		assert.Equal(t, fmt.Sprintf("m%d", i), r.MessageID)
	}
	assert.NoError(t, VerifyChain(records))

	// голова, с которой продолжит следующий запуск, совпадает с хранилищем
	next := NewAgentFS(store, Options{}, nil, zap.NewNop())
	require.NoError(t, next.Start(context.Background()))
	next.Log(Record{Identity: "42"})
	next.Stop()
	assert.NoError(t, VerifyChain(store.all()))
}

func TestAgentFS_GivesUpAndRewindsChain(t *testing.T) {
	store := &memoryStore{fail: true}
	obs := &countingObserver{}
	fs := NewAgentFS(store, Options{BatchSize: 1, FlushInterval: time.Hour, MaxFlushAttempts: 2}, obs, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))

	fs.Log(Record{Identity: "42", MessageID: "lost-1"})
	require.Eventually(t, func() bool { return store.calls() == 1 }, time.Second, 5*time.Millisecond)
	fs.Log(Record{Identity: "42", MessageID: "lost-2"})
	require.Eventually(t, func() bool { return obs.drops.Load() == 2 }, time.Second, 5*time.Millisecond)

	store.setFail(false)
	fs.Log(Record{Identity: "42", MessageID: "kept"})
	fs.Stop()

	records := store.all()
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].MessageID)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, GenesisHash, records[0].PrevHash)
	assert.NoError(t, VerifyChain(records))
}

func TestAgentFS_FinalFlushFailureDropsRecords(t *testing.T) {
	store := &memoryStore{fail: true}
	obs := &countingObserver{}
	fs := NewAgentFS(store, Options{BatchSize: 10, FlushInterval: time.Hour}, obs, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))

	fs.Log(Record{Identity: "42"})
	fs.Log(Record{Identity: "42"})
	fs.Stop()

	assert.Empty(t, store.all())
	assert.Equal(t, int32(2), obs.drops.Load())
}

func TestAgentFS_LogAfterStopIsDropped(t *testing.T) {
	obs := &countingObserver{}
	fs := NewAgentFS(&memoryStore{}, Options{}, obs, zap.NewNop())
	require.NoError(t, fs.Start(context.Background()))
	fs.Stop()
	fs.Stop()

	assert.NotPanics(t, func() { fs.Log(Record{Identity: "42"}) })
	assert.Equal(t, int32(1), obs.drops.Load())
}
