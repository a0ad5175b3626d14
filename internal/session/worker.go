package session

import (
	"strconv"
	"sync"
	"sync/atomic"

	"chatblast/internal/messaging"
)

type State string

const (
	StateIdle       State = "idle"
	StateBusy       State = "busy"
	StateRestarting State = "restarting"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
)

// Worker owns one messaging session. The dispatcher guarantees at most one
// batch in flight per worker; restart is serialized by restartMu.
type Worker struct {
	id       int
	identity string

	restartMu sync.Mutex

	mu    sync.RWMutex
	sess  messaging.Session
	state State

	restarts atomic.Int64
}

func newWorker(id int, identity string, sess messaging.Session) *Worker {
	return &Worker{id: id, identity: identity, sess: sess, state: StateIdle}
}

func (w *Worker) ID() int          { return w.id }
func (w *Worker) Identity() string { return w.identity }
func (w *Worker) String() string   { return "worker-" + strconv.Itoa(w.id) }

// Session returns the current session reference. After a failed restart this
// is the previous (possibly destroyed) session.
func (w *Worker) Session() messaging.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sess
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) SetState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) Busy() bool { return w.State() == StateBusy }

// Restarts counts successful session swaps.
func (w *Worker) Restarts() int { return int(w.restarts.Load()) }

func (w *Worker) swap(sess messaging.Session) {
	w.mu.Lock()
	w.sess = sess
	w.mu.Unlock()
}
