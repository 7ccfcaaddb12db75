package envelope

import "sync"

// locker serializes mutations per project so overlapping calls cannot race a
// whole-document read-mutate-write against each other.
type locker struct {
	mus sync.Map // projectID -> *sync.Mutex
}

func (l *locker) lock(projectID string) (unlock func()) {
	v, _ := l.mus.LoadOrStore(projectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
