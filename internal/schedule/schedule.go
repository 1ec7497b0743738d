// Package schedule runs delayed per-user tasks that can be cancelled before
// they fire.
package schedule

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token identifies a scheduled task. The zero Token is never issued.
type Token uint64

// Executor runs a due task. The default runs it on the timer goroutine; hosts
// with a primary execution context hand it over instead.
type Executor func(fn func())

// DefaultTick is the duration of one host tick.
const DefaultTick = 50 * time.Millisecond

// Ticks converts a tick count into a duration.
func Ticks(n int, tick time.Duration) time.Duration {
	if tick <= 0 {
		tick = DefaultTick
	}
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * tick
}

type task struct {
	owner uuid.UUID
	timer *time.Timer
}

type Queue struct {
	exec Executor

	mu      sync.Mutex
	next    Token
	tasks   map[Token]*task
	byOwner map[uuid.UUID]map[Token]struct{}
	closed  bool

	wg sync.WaitGroup
}

type Option func(*Queue)

func WithExecutor(e Executor) Option {
	return func(q *Queue) {
		if e != nil {
			q.exec = e
		}
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		exec:    func(fn func()) { fn() },
		tasks:   map[Token]*task{},
		byOwner: map[uuid.UUID]map[Token]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Schedule runs fn after delay unless the returned token is cancelled first.
// It returns the zero Token once the queue is closed.
func (q *Queue) Schedule(owner uuid.UUID, delay time.Duration, fn func()) Token {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.next++
	tok := q.next
	t := &task{owner: owner}
	q.tasks[tok] = t
	set := q.byOwner[owner]
	if set == nil {
		set = map[Token]struct{}{}
		q.byOwner[owner] = set
	}
	set[tok] = struct{}{}

	q.wg.Add(1)
	t.timer = time.AfterFunc(delay, func() { q.fire(tok, fn) })
	return tok
}

func (q *Queue) fire(tok Token, fn func()) {
	defer q.wg.Done()
	q.mu.Lock()
	_, ok := q.tasks[tok]
	if ok {
		q.removeLocked(tok)
	}
	q.mu.Unlock()
	if !ok {
		return
	}
	q.exec(fn)
}

func (q *Queue) removeLocked(tok Token) *task {
	t, ok := q.tasks[tok]
	if !ok {
		return nil
	}
	delete(q.tasks, tok)
	if set := q.byOwner[t.owner]; set != nil {
		delete(set, tok)
		if len(set) == 0 {
			delete(q.byOwner, t.owner)
		}
	}
	return t
}

func (q *Queue) stopLocked(tok Token) bool {
	t := q.removeLocked(tok)
	if t == nil {
		return false
	}
	if t.timer.Stop() {
		q.wg.Done()
	}
	return true
}

// Cancel removes a pending task. It reports false for unknown, fired or
// already cancelled tokens.
func (q *Queue) Cancel(tok Token) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopLocked(tok)
}

// CancelOwner cancels every pending task of owner and returns how many there
// were.
func (q *Queue) CancelOwner(owner uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for tok := range q.byOwner[owner] {
		if q.stopLocked(tok) {
			n++
		}
	}
	return n
}

// Pending is the number of tasks waiting for owner.
func (q *Queue) Pending(owner uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byOwner[owner])
}

// Close cancels all pending tasks and waits for running ones to return.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for tok := range q.tasks {
		q.stopLocked(tok)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
