// ABOUTME: Unbounded per-user FIFO queue decoupling message receipt from delivery
// ABOUTME: Queues are created on first reference and iterated in first-seen order

package queue

import "sync"

// userQueue is one user's pending texts guarded by its own lock.
type userQueue struct {
	mu    sync.Mutex
	items []string
}

// Queue holds one FIFO per user. All methods are safe for concurrent use.
type Queue struct {
	mu     sync.RWMutex
	queues map[string]*userQueue
	order  []string // first-seen order, stable across passes

	notify chan struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		queues: make(map[string]*userQueue),
		notify: make(chan struct{}, 1),
	}
}

// get returns the user's queue, creating it on first reference.
func (q *Queue) get(user string) *userQueue {
	q.mu.RLock()
	uq, ok := q.queues[user]
	q.mu.RUnlock()
	if ok {
		return uq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if uq, ok = q.queues[user]; ok {
		return uq
	}
	uq = &userQueue{}
	q.queues[user] = uq
	q.order = append(q.order, user)
	return uq
}

// Enqueue appends text to the user's queue. It never blocks.
func (q *Queue) Enqueue(user, text string) {
	uq := q.get(user)
	uq.mu.Lock()
	uq.items = append(uq.items, text)
	uq.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the head of the user's queue.
// It reports false when the queue is empty.
func (q *Queue) TryDequeue(user string) (string, bool) {
	uq := q.get(user)
	uq.mu.Lock()
	defer uq.mu.Unlock()

	if len(uq.items) == 0 {
		return "", false
	}
	text := uq.items[0]
	uq.items[0] = ""
	uq.items = uq.items[1:]
	if len(uq.items) == 0 {
		uq.items = nil
	}
	return text, true
}

// Users returns every user that has ever been referenced, in first-seen order.
func (q *Queue) Users() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

// Depth returns the number of pending texts for user.
func (q *Queue) Depth(user string) int {
	q.mu.RLock()
	uq, ok := q.queues[user]
	q.mu.RUnlock()
	if !ok {
		return 0
	}
	uq.mu.Lock()
	defer uq.mu.Unlock()
	return len(uq.items)
}

// Len returns the total number of pending texts across all users.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, uq := range q.queues {
		uq.mu.Lock()
		n += len(uq.items)
		uq.mu.Unlock()
	}
	return n
}

// Snapshot returns the pending depth of every non-empty queue.
func (q *Queue) Snapshot() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make(map[string]int)
	for user, uq := range q.queues {
		uq.mu.Lock()
		if n := len(uq.items); n > 0 {
			out[user] = n
		}
		uq.mu.Unlock()
	}
	return out
}

// Notify returns a channel that receives after an Enqueue.
// Signals coalesce: several enqueues may produce a single wake-up.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
