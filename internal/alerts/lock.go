package alerts

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const stripes = 64

// stripedLock serializes raises of the same dedup subject within the
// process without a global lock.
type stripedLock struct {
	mu [stripes]sync.Mutex
}

func dedupHash(source, entityKey string) uint64 {
	return murmur3.Sum64([]byte(source + "\x00" + entityKey))
}

func (l *stripedLock) lock(h uint64) func() {
	m := &l.mu[h%stripes]
	m.Lock()
	return m.Unlock
}
