package client

import (
	"sort"
	"sync"
	"time"

	"github.com/sessamekesh/pingpong-netcode/pkg/errors"
)

type PendingRequest struct {
	RequestNum uint64
	SentAt     time.Time
}

// CorrelationTable tracks requests that are still waiting for a response. Each entry leaves the
// table exactly once, through Resolve or through Expire.
type CorrelationTable struct {
	mut     sync.Mutex
	pending map[uint64]time.Time
}

func CreateCorrelationTable() *CorrelationTable {
	return &CorrelationTable{
		mut:     sync.Mutex{},
		pending: make(map[uint64]time.Time),
	}
}

func (t *CorrelationTable) Add(requestNum uint64, sentAt time.Time) error {
	t.mut.Lock()
	defer t.mut.Unlock()

	if _, has := t.pending[requestNum]; has {
		return &errors.DuplicateRequestNum{RequestNum: requestNum}
	}
	t.pending[requestNum] = sentAt
	return nil
}

// Resolve removes and returns the pending request, if it is still there.
func (t *CorrelationTable) Resolve(requestNum uint64) (PendingRequest, bool) {
	t.mut.Lock()
	defer t.mut.Unlock()

	sentAt, has := t.pending[requestNum]
	if !has {
		return PendingRequest{}, false
	}
	delete(t.pending, requestNum)
	return PendingRequest{RequestNum: requestNum, SentAt: sentAt}, true
}

// Expire removes every request older than timeout at now and returns them by request number.
func (t *CorrelationTable) Expire(now time.Time, timeout time.Duration) []PendingRequest {
	t.mut.Lock()
	expired := []PendingRequest{}
	for requestNum, sentAt := range t.pending {
		if now.Sub(sentAt) > timeout {
			expired = append(expired, PendingRequest{RequestNum: requestNum, SentAt: sentAt})
			delete(t.pending, requestNum)
		}
	}
	t.mut.Unlock()

	sortPending(expired)
	return expired
}

func (t *CorrelationTable) Snapshot() []PendingRequest {
	t.mut.Lock()
	out := make([]PendingRequest, 0, len(t.pending))
	for requestNum, sentAt := range t.pending {
		out = append(out, PendingRequest{RequestNum: requestNum, SentAt: sentAt})
	}
	t.mut.Unlock()

	sortPending(out)
	return out
}

func (t *CorrelationTable) Len() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return len(t.pending)
}

func sortPending(requests []PendingRequest) {
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].RequestNum < requests[j].RequestNum
	})
}
