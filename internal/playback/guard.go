/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "sync"

// Guard admits many concurrent readers or a single writer.
//
// There is no preference between readers and writers: a steady stream of
// readers can starve a waiting writer and vice versa. The zero value is
// ready to use.
type Guard struct {
	mu        sync.Mutex
	readCond  *sync.Cond
	writeCond *sync.Cond
	readers   int
	writer    bool
}

func (g *Guard) initLocked() {
	if g.readCond == nil {
		g.readCond = sync.NewCond(&g.mu)
		g.writeCond = sync.NewCond(&g.mu)
	}
}

// AcquireRead blocks until no writer holds the guard.
func (g *Guard) AcquireRead() {
	g.mu.Lock()
	g.initLocked()
	for g.writer {
		g.readCond.Wait()
	}
	g.readers++
	g.mu.Unlock()
}

// ReleaseRead drops one reader, waking a writer when the last one leaves.
func (g *Guard) ReleaseRead() {
	g.mu.Lock()
	g.initLocked()
	if g.readers <= 0 {
		g.mu.Unlock()
		panic("playback: ReleaseRead without AcquireRead")
	}
	g.readers--
	if g.readers == 0 {
		g.writeCond.Signal()
	}
	g.mu.Unlock()
}

// AcquireWrite blocks until there are no readers and no writer.
func (g *Guard) AcquireWrite() {
	g.mu.Lock()
	g.initLocked()
	for g.writer || g.readers > 0 {
		g.writeCond.Wait()
	}
	g.writer = true
	g.mu.Unlock()
}

// ReleaseWrite clears the writer and wakes waiters.
func (g *Guard) ReleaseWrite() {
	g.mu.Lock()
	g.initLocked()
	if !g.writer {
		g.mu.Unlock()
		panic("playback: ReleaseWrite without AcquireWrite")
	}
	g.writer = false
	g.readCond.Broadcast()
	g.writeCond.Signal()
	g.mu.Unlock()
}

// state reports the current holder counts.
func (g *Guard) state() (readers int, writer bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readers, g.writer
}
