package api

import "sync"

// updateBroker fans board change notifications out to the SSE streams of a user.
type updateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *updateBroker) subscribe(userID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan struct{}]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *updateBroker) unsubscribe(userID string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[userID], ch)
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

// notify never blocks; a subscriber with a pending notification is skipped.
func (b *updateBroker) notify(userID string) {
	b.mu.Lock()
	for ch := range b.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}
