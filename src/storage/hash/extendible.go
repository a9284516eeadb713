package hash

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Blackdeer1524/RelStore/src/pkg/common"
	"github.com/Blackdeer1524/RelStore/src/pkg/optional"
)

// HashFunc maps a key onto 64 bits. It must be deterministic for the
// lifetime of the table.
type HashFunc[K comparable] func(K) uint64

// Extendible is a dynamically growing hash table. The directory is a
// slice of bucket handles; a bucket with local depth d is shared by the
// 2^(globalDepth-d) directory slots that agree on their low d bits.
type Extendible[K comparable, V any] struct {
	mu sync.Mutex

	hashFn        HashFunc[K]
	directory     []*bucket[K, V]
	globalDepth   int
	bucketMaxSize int
	numBuckets    int
}

type bucket[K comparable, V any] struct {
	items      map[K]V
	localDepth int
}

func newBucket[K comparable, V any](depth int) *bucket[K, V] {
	return &bucket[K, V]{
		items:      make(map[K]V),
		localDepth: depth,
	}
}

func NewExtendible[K comparable, V any](
	bucketMaxSize int,
	hashFn HashFunc[K],
) *Extendible[K, V] {
	return &Extendible[K, V]{
		hashFn:        hashFn,
		directory:     []*bucket[K, V]{newBucket[K, V](0)},
		globalDepth:   0,
		bucketMaxSize: bucketMaxSize,
		numBuckets:    1,
	}
}

func (e *Extendible[K, V]) slotIndex(key K) uint64 {
	return e.hashFn(key) & ((1 << uint(e.globalDepth)) - 1)
}

func (e *Extendible[K, V]) Find(key K) optional.Optional[V] {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.directory[e.slotIndex(key)]
	if v, ok := b.items[key]; ok {
		return optional.Some(v)
	}
	return optional.None[V]()
}

func (e *Extendible[K, V]) Remove(key K) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.directory[e.slotIndex(key)]
	if _, ok := b.items[key]; !ok {
		return false
	}
	delete(b.items, key)
	return true
}

// Insert puts (key, value) into the table, replacing the value on an
// equal key. Full buckets split; splitting a bucket whose local depth
// equals the global depth doubles the directory first.
func (e *Extendible[K, V]) Insert(key K, value V) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := e.directory[e.slotIndex(key)]
	if _, exists := target.items[key]; exists {
		target.items[key] = value
		return
	}

	for len(target.items) == e.bucketMaxSize {
		if target.localDepth == e.globalDepth {
			e.directory = append(e.directory, e.directory...)
			e.globalDepth++
		}

		zeroBucket := newBucket[K, V](target.localDepth + 1)
		oneBucket := newBucket[K, V](target.localDepth + 1)
		e.numBuckets++

		mask := uint64(1) << uint(target.localDepth)
		for k, v := range target.items {
			if e.hashFn(k)&mask != 0 {
				oneBucket.items[k] = v
			} else {
				zeroBucket.items[k] = v
			}
		}

		for i := range e.directory {
			if e.directory[i] != target {
				continue
			}
			if uint64(i)&mask != 0 {
				e.directory[i] = oneBucket
			} else {
				e.directory[i] = zeroBucket
			}
		}

		target = e.directory[e.slotIndex(key)]
	}

	target.items[key] = value
}

func (e *Extendible[K, V]) GlobalDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.globalDepth
}

func (e *Extendible[K, V]) LocalDepth(slot int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.directory[slot].localDepth
}

func (e *Extendible[K, V]) NumBuckets() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.numBuckets
}

// PageIDHash is the hash used by the buffer pool's page table.
func PageIDHash(id common.PageID) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	return xxhash.Sum64(b[:])
}

// Int64Hash serves integer-keyed tables in tests and tools.
func Int64Hash(k int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

// RIDHash hashes a record id for RID-keyed tables.
func RIDHash(rid common.RID) uint64 {
	var b [common.SerializedRIDSize]byte
	rid.SerializeTo(b[:])
	return xxhash.Sum64(b[:])
}
