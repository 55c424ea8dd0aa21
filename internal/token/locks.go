package token

import (
	"hash/fnv"
	"sync"
)

// lockTable provides striped mutexes keyed by string, so that lifecycle
// writes for one token or (owner, scope) pair never block writes for an
// unrelated key beyond incidental stripe sharing.
type lockTable struct {
	stripes [64]sync.Mutex
}

// forKey returns the mutex for key. The caller locks and unlocks it.
func (lt *lockTable) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &lt.stripes[h.Sum32()%uint32(len(lt.stripes))]
}
