package wrangler

import (
	"sync"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

// ackStore remembers the last annotation the archive acknowledged per
// record. Batch workers acknowledge concurrently, so access is guarded.
type ackStore struct {
	mu   sync.Mutex
	byID map[string]*model.Annotation
}

func newAckStore() *ackStore {
	return &ackStore{byID: make(map[string]*model.Annotation)}
}

func (a *ackStore) Acknowledged(recordID string) *model.Annotation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byID[recordID]
}

func (a *ackStore) Acknowledge(recordID string, ann *model.Annotation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID[recordID] = ann
}

func (a *ackStore) replace(m map[string]*model.Annotation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID = make(map[string]*model.Annotation, len(m))
	for k, v := range m {
		a.byID[k] = v
	}
}

func (a *ackStore) snapshot() map[string]*model.Annotation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*model.Annotation, len(a.byID))
	for k, v := range a.byID {
		out[k] = v
	}
	return out
}

func (a *ackStore) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID = make(map[string]*model.Annotation)
}
