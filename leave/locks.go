package leave

import "sync"

// keyedMutex serialises work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// yearGate lets decisions on a year run together while a year close waits
// for them and then holds the year exclusively.
type yearGate struct {
	mu    sync.Mutex
	years map[int]*sync.RWMutex
}

func newYearGate() *yearGate {
	return &yearGate{years: make(map[int]*sync.RWMutex)}
}

func (g *yearGate) get(year int) *sync.RWMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.years[year]
	if !ok {
		l = &sync.RWMutex{}
		g.years[year] = l
	}
	return l
}

// Enter is taken by decisions touching year.
func (g *yearGate) Enter(year int) func() {
	l := g.get(year)
	l.RLock()
	return l.RUnlock
}

// Exclusive is taken by the year close.
func (g *yearGate) Exclusive(year int) func() {
	l := g.get(year)
	l.Lock()
	return l.Unlock
}
