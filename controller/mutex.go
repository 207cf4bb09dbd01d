package controller

import (
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// mutex contains locking logic for journal sessions.
//
// Single engine operations are serialized by the engine itself, but operations made
// of several engine calls (switching the execution account) must not interleave with
// other operations of the same session. Mutex keeps a lock per session ID and a count
// of its users so the lock is dropped from the map once released by everyone.
type mutex struct {
	mx      *sync.Mutex                 // mutex for access to bellow maps
	sMutex  map[uuid.UUID]*sync.RWMutex // per session mutexes
	counter map[uuid.UUID]int           // per session counter
}

func newMutex() *mutex {
	return &mutex{
		mx:      &sync.Mutex{},
		sMutex:  make(map[uuid.UUID]*sync.RWMutex),
		counter: make(map[uuid.UUID]int),
	}
}

// load retrieves the mutex lock by the session ID and increases the usage counter.
func (m *mutex) load(id uuid.UUID) *sync.RWMutex {
	m.mx.Lock()
	defer m.mx.Unlock()

	if _, ok := m.sMutex[id]; !ok {
		m.sMutex[id] = &sync.RWMutex{}
	}

	m.counter[id] += 1

	return m.sMutex[id]
}

// remove returns the mutex lock by the session ID and decreases usage counter, deleting the map entry if at 0.
func (m *mutex) remove(id uuid.UUID) *sync.RWMutex {
	m.mx.Lock()
	defer m.mx.Unlock()

	mut, ok := m.sMutex[id]
	if !ok {
		sentry.CaptureMessage(fmt.Sprintf("trying to remove a mutex it doesn't exists, session ID: %s", id))
		return &sync.RWMutex{}
	}

	if m.counter[id] == 1 {
		delete(m.counter, id)
		delete(m.sMutex, id)
	} else {
		m.counter[id] -= 1
	}

	return mut
}
