package tracking

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// keyedMutex serializes work per trip. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[primitive.ObjectID]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for id and returns its release func.
func (k *keyedMutex) Lock(id primitive.ObjectID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[primitive.ObjectID]*refLock)
	}
	l := k.locks[id]
	if l == nil {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
