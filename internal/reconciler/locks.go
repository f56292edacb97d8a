package reconciler

import (
	"hash/fnv"
	"sync"
)

// lockArena serializes position mutations per (user, pool) key within this
// process. Store operations are individually atomic; the arena additionally
// keeps multi-statement updates on the same key (a liquidation's two
// sub-updates, a create-then-add) from interleaving.
type lockArena struct {
	stripes []sync.Mutex
}

func newLockArena(n int) *lockArena {
	if n <= 0 {
		n = 256
	}
	return &lockArena{stripes: make([]sync.Mutex, n)}
}

// stripe maps a position key to its mutex index.
func (a *lockArena) stripe(user, pool string) int {
	h := fnv.New32a()
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(pool))
	return int(h.Sum32() % uint32(len(a.stripes)))
}

// lock acquires the stripe for one key and returns its unlock.
func (a *lockArena) lock(user, pool string) func() {
	m := &a.stripes[a.stripe(user, pool)]
	m.Lock()
	return m.Unlock
}

// lockPair acquires the stripes for two keys in index order, so concurrent
// liquidations touching the same pair can never deadlock.
func (a *lockArena) lockPair(user, poolA, poolB string) func() {
	i, j := a.stripe(user, poolA), a.stripe(user, poolB)
	if i == j {
		return a.lock(user, poolA)
	}
	if i > j {
		i, j = j, i
	}
	a.stripes[i].Lock()
	a.stripes[j].Lock()
	return func() {
		a.stripes[j].Unlock()
		a.stripes[i].Unlock()
	}
}
