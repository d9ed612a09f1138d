package internal

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessamekesh/pingpong-netcode/pkg/errors"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
)

func memoryConn() transport.Conn {
	conn, _ := transport.CreateMemoryPair()
	return conn
}

func TestClientIdsNeverReused(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(0)
	now := time.Now()

	first, err := store.Register(memoryConn(), now)
	require.NoError(t, err)
	second, err := store.Register(memoryConn(), now)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.ClientId)
	assert.Equal(t, uint64(2), second.ClientId)

	require.NoError(t, store.Remove(first.ClientId))
	assert.False(t, store.Has(first.ClientId))

	third, err := store.Register(memoryConn(), now)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), third.ClientId)
	assert.Equal(t, 2, store.Len())
}

func TestRegisterConcurrently(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(0)
	const n = 200

	ids := make(chan uint64, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := store.Register(memoryConn(), time.Now())
			if err == nil {
				ids <- record.ClientId
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	for id := uint64(1); id <= n; id++ {
		assert.True(t, seen[id], "id %d never assigned", id)
	}
}

func TestCapacity(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(1)

	first, err := store.Register(memoryConn(), time.Now())
	require.NoError(t, err)

	_, err = store.Register(memoryConn(), time.Now())
	var tooMany *errors.TooManyClients
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 1, tooMany.MaxConnections)

	require.NoError(t, store.Remove(first.ClientId))
	second, err := store.Register(memoryConn(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.ClientId, "a rejected connection must not consume an id")
}

func TestMissingClient(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(0)

	var missing *errors.MissingClientId
	assert.ErrorAs(t, store.Remove(7), &missing)
	_, err := store.Get(7)
	assert.ErrorAs(t, err, &missing)
	assert.Equal(t, uint64(7), missing.Id)
}

func TestSnapshotIsStable(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(0)
	for i := 0; i < 3; i++ {
		_, err := store.Register(memoryConn(), time.Now())
		require.NoError(t, err)
	}

	snapshot := store.Snapshot()
	require.NoError(t, store.Remove(2))
	_, err := store.Register(memoryConn(), time.Now())
	require.NoError(t, err)

	ids := []uint64{}
	for _, record := range snapshot {
		ids = append(ids, record.ClientId)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	ids = ids[:0]
	for _, record := range store.Snapshot() {
		ids = append(ids, record.ClientId)
	}
	assert.Equal(t, []uint64{1, 3, 4}, ids)
}

func TestConnectionStats(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(0)
	record, err := store.Register(memoryConn(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "memory:a", record.RemoteAddr)

	at := time.Now()
	record.CountReceived(at)
	record.CountReceived(at)
	record.CountAnswered()
	record.CountIgnored()

	got, err := store.Get(record.ClientId)
	require.NoError(t, err)
	assert.Equal(t, ConnectionStats{Received: 2, Answered: 1, Ignored: 1, LastRequest: at}, got.Stats())
}

func TestOutgoingQueue(t *testing.T) {
	t.Parallel()

	store := CreateConnectionStore(0)
	record, err := store.Register(memoryConn(), time.Now())
	require.NoError(t, err)

	for i := 0; i < OutgoingQueueLength; i++ {
		require.NoError(t, record.Enqueue(OutgoingLine{Line: "[0] keepalive"}))
	}

	var full *errors.OutgoingQueueFull
	require.ErrorAs(t, record.Enqueue(OutgoingLine{Line: "[1] keepalive"}), &full)
	assert.Equal(t, record.ClientId, full.Id)

	first := <-record.Outgoing()
	assert.Equal(t, "[0] keepalive", first.Line)
	require.NoError(t, record.Enqueue(OutgoingLine{Line: "[1] keepalive"}))

	record.StopOutgoing()
	assert.ErrorIs(t, record.Enqueue(OutgoingLine{Line: "[2] keepalive"}), net.ErrClosed)
	assert.Len(t, record.Outgoing(), OutgoingQueueLength)
}
