package wal

import "sync"

// groupCommitManager implements the §4.1/§5 group-commit optimization:
// N concurrent appenders place themselves in the current group; exactly one
// leader issues one fsync covering the batch; every member is released only
// after that fsync returns. A single mutex + condition variable forms the
// fsync barrier, per §9 ("no hidden background threads").
type groupCommitManager struct {
	mu    sync.Mutex
	cond  *sync.Cond
	epoch uint64
	busy  bool
	err   error
}

func newGroupCommitManager() *groupCommitManager {
	g := &groupCommitManager{}
	g.cond = sync.NewCond(&g.mu)

	return g
}

// fsync blocks the caller until a single fsync of file has completed that
// started no earlier than the call. No commit is acknowledged before its
// epoch's fsync returns.
func (g *groupCommitManager) fsync(file interface{ Sync() error }) error {
	g.mu.Lock()

	// An fsync already in flight may have started before the caller's write,
	// so a caller arriving while busy waits for the fsync after that one.
	target := g.epoch + 1
	if g.busy {
		target++
	}

	for g.busy && g.epoch < target {
		g.cond.Wait()
	}

	if g.epoch >= target {
		err := g.err
		g.mu.Unlock()

		return err
	}

	g.busy = true
	g.mu.Unlock()

	err := file.Sync()

	g.mu.Lock()
	g.err = err
	g.epoch++
	g.busy = false
	g.mu.Unlock()
	g.cond.Broadcast()

	return err
}
