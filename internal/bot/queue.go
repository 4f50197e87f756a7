package bot

import (
	"context"
	"sync"
	"time"
)

// chatQueue runs jobs one at a time per chat, in submission order, while
// different chats run concurrently. A chat's worker exits after idle
// without work.
type chatQueue struct {
	mu      sync.Mutex
	workers map[int64]*chatWorker
	idle    time.Duration
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

type chatWorker struct {
	jobs []func()
	wake chan struct{}
}

func newChatQueue(idle time.Duration) *chatQueue {
	if idle <= 0 {
		idle = time.Minute
	}
	return &chatQueue{
		workers: make(map[int64]*chatWorker),
		idle:    idle,
		closing: make(chan struct{}),
	}
}

// Submit queues job for the chat. It reports false and drops the job once
// Wait has been called.
func (q *chatQueue) Submit(chatID int64, job func()) bool {
	q.mu.Lock()
	select {
	case <-q.closing:
		q.mu.Unlock()
		return false
	default:
	}

	w, ok := q.workers[chatID]
	if !ok {
		w = &chatWorker{wake: make(chan struct{}, 1)}
		q.workers[chatID] = w
		q.wg.Add(1)
		go q.run(chatID, w)
	}
	w.jobs = append(w.jobs, job)
	q.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *chatQueue) run(chatID int64, w *chatWorker) {
	defer q.wg.Done()

	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(w.jobs) > 0 {
			job := w.jobs[0]
			w.jobs[0] = nil
			w.jobs = w.jobs[1:]
			q.mu.Unlock()

			job()
			continue
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.idle)

		select {
		case <-w.wake:
		case <-q.closing:
			if q.retire(chatID, w) {
				return
			}
		case <-timer.C:
			if q.retire(chatID, w) {
				return
			}
		}
	}
}

// retire removes an idle worker. It reports false when work arrived.
func (q *chatQueue) retire(chatID int64, w *chatWorker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(w.jobs) > 0 {
		return false
	}
	delete(q.workers, chatID)
	return true
}

// Active reports how many chats currently have a worker.
func (q *chatQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

// Wait lets every worker drain its jobs and exit, then returns. It gives
// up when ctx is done.
func (q *chatQueue) Wait(ctx context.Context) error {
	q.once.Do(func() {
		q.mu.Lock()
		close(q.closing)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
