package internal

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessamekesh/pingpong-netcode/pkg/errors"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
)

// OutgoingQueueLength is how far a connection's writer may fall behind before further lines
// for it are refused.
const OutgoingQueueLength = 64

// OutgoingLine is one line waiting for the connection's writer. Sent, if set, runs once the line
// has been written.
type OutgoingLine struct {
	Line string
	Sent func(at time.Time)
}

type ConnectionStats struct {
	Received    uint64
	Answered    uint64
	Ignored     uint64
	LastRequest time.Time
}

type ConnectionRecord struct {
	ClientId    uint64
	Conn        transport.Conn
	RemoteAddr  string
	ConnectedAt time.Time

	outgoing chan OutgoingLine

	mut     sync.Mutex
	stopped bool
	stats   ConnectionStats
}

// Enqueue hands line to the connection's writer without blocking. Lines leave in the order they
// were enqueued.
func (r *ConnectionRecord) Enqueue(line OutgoingLine) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	if r.stopped {
		return net.ErrClosed
	}
	select {
	case r.outgoing <- line:
		return nil
	default:
		return &errors.OutgoingQueueFull{Id: r.ClientId, QueueLength: cap(r.outgoing)}
	}
}

func (r *ConnectionRecord) Outgoing() <-chan OutgoingLine {
	return r.outgoing
}

// StopOutgoing makes every later Enqueue fail. Lines already queued stay queued.
func (r *ConnectionRecord) StopOutgoing() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.stopped = true
}

func (r *ConnectionRecord) CountReceived(at time.Time) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.stats.Received++
	r.stats.LastRequest = at
}

func (r *ConnectionRecord) CountAnswered() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.stats.Answered++
}

func (r *ConnectionRecord) CountIgnored() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.stats.Ignored++
}

func (r *ConnectionRecord) Stats() ConnectionStats {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.stats
}

// ConnectionStore is the server's registry of live connections. Client ids start at 1 and are
// never reused, even after the connection holding one goes away.
type ConnectionStore struct {
	// MaxConnections <= 0 means unlimited.
	MaxConnections int

	nextClientId atomic.Uint64

	mut_connections sync.RWMutex
	connections     map[uint64]*ConnectionRecord
}

func CreateConnectionStore(maxConnections int) *ConnectionStore {
	return &ConnectionStore{
		MaxConnections:  maxConnections,
		nextClientId:    atomic.Uint64{},
		mut_connections: sync.RWMutex{},
		connections:     make(map[uint64]*ConnectionRecord),
	}
}

// Register assigns the next client id to conn and adds it to the registry. A connection
// rejected for capacity does not consume an id.
func (store *ConnectionStore) Register(conn transport.Conn, now time.Time) (*ConnectionRecord, error) {
	store.mut_connections.Lock()
	defer store.mut_connections.Unlock()

	if store.MaxConnections > 0 && len(store.connections) >= store.MaxConnections {
		return nil, &errors.TooManyClients{MaxConnections: store.MaxConnections}
	}

	clientId := store.nextClientId.Add(1)
	if _, has := store.connections[clientId]; has {
		return nil, &errors.DuplicateClientId{Id: clientId}
	}

	record := &ConnectionRecord{
		ClientId:    clientId,
		Conn:        conn,
		RemoteAddr:  conn.RemoteAddr(),
		ConnectedAt: now,
		outgoing:    make(chan OutgoingLine, OutgoingQueueLength),
	}
	store.connections[clientId] = record
	return record, nil
}

func (store *ConnectionStore) Remove(clientId uint64) error {
	store.mut_connections.Lock()
	defer store.mut_connections.Unlock()

	if _, has := store.connections[clientId]; !has {
		return &errors.MissingClientId{Id: clientId}
	}
	delete(store.connections, clientId)
	return nil
}

func (store *ConnectionStore) Has(clientId uint64) bool {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	_, has := store.connections[clientId]
	return has
}

func (store *ConnectionStore) Get(clientId uint64) (*ConnectionRecord, error) {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	record, has := store.connections[clientId]
	if !has {
		return nil, &errors.MissingClientId{Id: clientId}
	}
	return record, nil
}

// Snapshot returns the live connections ordered by client id. Later registrations and
// removals do not affect the returned slice.
func (store *ConnectionStore) Snapshot() []*ConnectionRecord {
	store.mut_connections.RLock()
	records := make([]*ConnectionRecord, 0, len(store.connections))
	for _, record := range store.connections {
		records = append(records, record)
	}
	store.mut_connections.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ClientId < records[j].ClientId
	})
	return records
}

func (store *ConnectionStore) Len() int {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()
	return len(store.connections)
}
