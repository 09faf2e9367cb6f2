package store

import "sync"

// notifier fans out wake-ups to goroutines waiting on a key.
type notifier struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{waiters: make(map[string]map[chan struct{}]struct{})}
}

func (n *notifier) subscribe(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.waiters[key] == nil {
		n.waiters[key] = make(map[chan struct{}]struct{})
	}
	n.waiters[key][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.waiters[key], ch)
			if len(n.waiters[key]) == 0 {
				delete(n.waiters, key)
			}
		})
	}
}

func (n *notifier) notify(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
