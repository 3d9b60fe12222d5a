/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mpool implements a memory pool for constant sized objects.
//
// A pool hands out equally sized elements carved from large
// pre-allocated clusters. Free elements are tracked by a per-cluster
// boundary bitmap and coalesced into larger ranges as neighbours are
// returned, so contiguous multi-element allocations stay available
// under churn. Out-of-memory is reported by returning nil; handing a
// pool anything it did not allocate panics.
//
// Pools are not safe for concurrent use. Callers that share a pool
// across goroutines must serialize access themselves, or keep one
// pool per worker.
package mpool

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrNoMemory is returned by Reserve when the backing allocator
// cannot provide another cluster.
var ErrNoMemory = errors.New("mpool: backing allocator out of memory")

// ptrAlign is the alignment element sizes are rounded up to, matching
// the word layout of the in-place free records.
const ptrAlign = 8

// Config carries the construction-time parameters of a pool. Only
// ElemSize and ElementsPerCluster are required.
type Config struct {
	// ElemSize is the payload size of one element in bytes. It is
	// rounded up to pointer alignment and never below the free-record
	// size (see nodeSize), so the in-place bookkeeping always fits.
	ElemSize int

	// ElementsPerCluster fixes how many elements one cluster holds.
	// Ranges never span clusters, so this is also the largest
	// allocation the pool can serve.
	ElementsPerCluster int

	// Destroy, when set, runs once per still-occupied element during
	// Destroy. It never runs on Free. Multi-element ranges are not
	// remembered once allocated, so the callback sees single elements
	// even for memory that was handed out in one piece.
	Destroy func(elem []byte)

	// Allocator provides cluster-backing memory. Nil selects the Go
	// heap. The value is captured at construction and never swapped.
	Allocator BlockAllocator

	// OnInit and OnDestroy are instrumentation hooks, invoked with the
	// pool right after construction and right before teardown. They
	// observe the pool only; nothing they do feeds back into it.
	OnInit    func(*Pool)
	OnDestroy func(*Pool)
}

// Pool is a fixed-size-object allocator. The zero value is not
// usable; construct pools with New or NewWithConfig.
type Pool struct {
	buckets  [numBuckets]bucket
	clusters []*cluster // creation order; lookups scan newest-first

	// linger is the cluster that most recently became fully free. It
	// stays owned by clusters and is re-validated before release, so
	// this is a hint, never an owner.
	linger *cluster

	elemSize     int
	perCluster   int
	clusterSize  int
	elementsFree int
	nextID       uint32

	alloc     BlockAllocator
	destroy   func([]byte)
	onDestroy func(*Pool)
}

// New constructs a pool of elemSize-byte elements allocated
// elementsPerCluster at a time. No backing memory is acquired until
// the first Reserve or Alloc.
func New(elemSize, elementsPerCluster int) (*Pool, error) {
	return NewWithConfig(Config{ElemSize: elemSize, ElementsPerCluster: elementsPerCluster})
}

// NewWithConfig constructs a pool from an explicit configuration.
func NewWithConfig(cfg Config) (*Pool, error) {
	if cfg.ElemSize <= 0 {
		return nil, fmt.Errorf("mpool: ElemSize must be positive, got %d", cfg.ElemSize)
	}
	if cfg.ElementsPerCluster <= 0 {
		return nil, fmt.Errorf("mpool: ElementsPerCluster must be positive, got %d", cfg.ElementsPerCluster)
	}
	if uint64(cfg.ElementsPerCluster) > 1<<31 {
		return nil, fmt.Errorf("mpool: ElementsPerCluster too large, got %d", cfg.ElementsPerCluster)
	}

	elemSize := cfg.ElemSize
	if elemSize < nodeSize {
		elemSize = nodeSize
	}
	elemSize = (elemSize + ptrAlign - 1) &^ (ptrAlign - 1)

	alloc := cfg.Allocator
	if alloc == nil {
		alloc = heapAllocator{}
	}

	p := &Pool{
		elemSize:    elemSize,
		perCluster:  cfg.ElementsPerCluster,
		clusterSize: bitmapWords(cfg.ElementsPerCluster)*(wordBits/8) + elemSize*cfg.ElementsPerCluster,
		alloc:       alloc,
		destroy:     cfg.Destroy,
		onDestroy:   cfg.OnDestroy,
	}
	if cfg.OnInit != nil {
		cfg.OnInit(p)
	}
	return p, nil
}

// Available returns how many elements can be allocated without
// acquiring a new cluster.
func (p *Pool) Available() int { return p.elementsFree }

// Clusters returns the number of live clusters.
func (p *Pool) Clusters() int { return len(p.clusters) }

// ElemSize returns the effective element size, after alignment and
// the free-record minimum are applied.
func (p *Pool) ElemSize() int { return p.elemSize }

// ClusterSize returns the byte size of one backing block.
func (p *Pool) ClusterSize() int { return p.clusterSize }

// Reserve grows the pool until at least n elements are available. On
// failure the clusters acquired so far are kept: the pool is short of
// the target but everything it already holds stays valid and usable.
func (p *Pool) Reserve(n int) error {
	for p.elementsFree < n {
		if !p.grow() {
			return ErrNoMemory
		}
	}
	return nil
}

// grow allocates one more cluster and files its whole span as a
// single free range.
func (p *Pool) grow() bool {
	block := p.alloc.AllocBlock(p.clusterSize)
	if block == nil {
		return false
	}
	p.nextID++
	if p.nextID == 0 { // id 0 is reserved for the nil ref
		p.nextID = 1
	}
	c := newCluster(p.nextID, block, p.elemSize, p.perCluster)
	p.clusters = append(p.clusters, c)

	c.bits.set(0)
	c.head(0).length = uint64(p.perCluster)
	if p.perCluster > 1 {
		last := p.perCluster - 1
		c.bits.set(last)
		t := c.tail(last)
		t.head = 0
		t.zero = 0
	}
	p.pushTail(bucketFor(p.perCluster), c, 0)
	p.elementsFree += p.perCluster
	return true
}

// Alloc returns a contiguous range of n elements as one byte slice of
// n*ElemSize() bytes, or nil when the pool cannot satisfy the
// request. The slice must be handed back to Free unchanged.
//
// Alloc can fail with free elements remaining: the size-classed
// search inspects a single bucket (see search), and requests larger
// than ElementsPerCluster never fit.
func (p *Pool) Alloc(n int) []byte { return p.AllocNear(n, nil) }

// AllocNear is Alloc with a locality hint: near should be a live
// element of this pool the new range would like to sit close to.
// Placement by proximity is a reserved extension; today the hint only
// disables the eager pre-grow below, keeping the allocation inside
// the existing clusters.
func (p *Pool) AllocNear(n int, near []byte) []byte {
	if n <= 0 || n > p.perCluster {
		return nil
	}

	// Grow eagerly when the pool is empty, or when it runs below half
	// a cluster and no placement preference exists. Pre-growing before
	// fragmentation forces a scattered search keeps fresh allocations
	// close together.
	if p.elementsFree == 0 || (near == nil && p.elementsFree < p.perCluster/2) {
		if !p.grow() && p.elementsFree == 0 {
			return nil
		}
	}

	c, start, ok := p.search(n)
	if !ok {
		return nil
	}
	p.take(c, start, n)
	p.elementsFree -= n
	return c.bytes(start, n)
}

// take carves n elements off the front of the free range headed at
// (c, start), filing the remainder, if any, back into its bucket.
func (p *Pool) take(c *cluster, start, n int) {
	length := int(c.head(start).length)
	p.unlink(bucketFor(length), c, start)
	c.bits.clear(start)

	rest := length - n
	if rest == 0 {
		if length > 1 {
			c.bits.clear(start + length - 1)
		}
		return
	}

	// The remainder becomes its own range. Its end boundary is the
	// old one; a fresh start boundary is only needed when the
	// remainder is longer than one element, otherwise the old end bit
	// already marks the single surviving slot.
	head := start + n
	end := start + length - 1
	if rest > 1 {
		c.bits.set(head)
		t := c.tail(end)
		t.head = uint64(head)
		t.zero = 0
	}
	c.head(head).length = uint64(rest)
	p.pushTail(bucketFor(rest), c, head)
}

// Free returns a range obtained from Alloc to the pool, merging it
// with adjacent free ranges. The slice must be exactly the one Alloc
// returned; a foreign, resliced or double-freed block is a caller bug
// and panics.
func (p *Pool) Free(block []byte) {
	if len(block) == 0 {
		return
	}
	ptr := unsafe.Pointer(&block[0])
	c := p.clusterOf(ptr)
	if c == nil {
		panic("mpool: block not from this pool")
	}
	off := int(uintptr(ptr) - uintptr(c.slots))
	if off%p.elemSize != 0 || len(block)%p.elemSize != 0 {
		panic("mpool: misaligned block")
	}
	start := off / p.elemSize
	n := len(block) / p.elemSize
	if start+n > p.perCluster {
		panic("mpool: block exceeds its cluster")
	}
	p.release(c, start, n)
}

// clusterOf scans the cluster collection, newest first, for the one
// containing ptr. The collection is not sorted by address; the scan
// is linear in the number of live clusters.
func (p *Pool) clusterOf(ptr unsafe.Pointer) *cluster {
	for i := len(p.clusters) - 1; i >= 0; i-- {
		if c := p.clusters[i]; c.contains(ptr) {
			return c
		}
	}
	return nil
}

// release files elements [start, start+n) of c as free, coalescing
// with the ranges on either side, and applies the linger policy when
// the whole cluster turns free.
func (p *Pool) release(c *cluster, start, n int) {
	length := n

	// Absorb the free range ending immediately to the left. Its
	// boundary slot is either the tail of a multi-element range, in
	// which case the null sentinel says so and the back-reference
	// leads to the head, or the head of a singleton.
	if start > 0 && c.bits.get(start-1) {
		last := start - 1
		first := last
		if c.tail(last).zero == 0 {
			first = int(c.tail(last).head)
			if first > last {
				panic("mpool: corrupted free record")
			}
		}
		p.unlink(bucketFor(int(c.head(first).length)), c, first)
		c.bits.clear(first)
		if last != first {
			c.bits.clear(last)
		}
		length += last - first + 1
		start = first
	}

	// Absorb the free range starting immediately to the right. Its
	// boundary slot is always a head: a tail there would imply a free
	// range overlapping the elements just freed.
	if end := start + length; end < p.perCluster && c.bits.get(end) {
		h := c.head(end)
		if h.length == 0 {
			panic("mpool: corrupted free record")
		}
		rlen := int(h.length)
		p.unlink(bucketFor(rlen), c, end)
		c.bits.clear(end)
		if rlen > 1 {
			c.bits.clear(end + rlen - 1)
		}
		length += rlen
	}

	// Write the merged range's boundaries and record, and file it.
	c.bits.set(start)
	c.head(start).length = uint64(length)
	if length > 1 {
		last := start + length - 1
		c.bits.set(last)
		t := c.tail(last)
		t.head = uint64(start)
		t.zero = 0
	}
	p.pushTail(bucketFor(length), c, start)
	p.elementsFree += n

	if length == p.perCluster {
		p.lingerSwap(c)
	}
}

// lingerSwap puts c on probation as the pool's one fully-idle
// cluster. Whatever lingered before is released for real, provided it
// is still completely free at this very moment; churn that refilled
// it in the meantime cancels the release.
func (p *Pool) lingerSwap(c *cluster) {
	if prev := p.linger; prev != nil && prev != c && prev.fullyFree() {
		p.releaseCluster(prev)
	}
	p.linger = c
}

// releaseCluster drops a fully free cluster: its single range leaves
// the free lists, the cluster leaves the collection, and the backing
// block goes back to the allocator.
func (p *Pool) releaseCluster(c *cluster) {
	p.unlink(bucketFor(p.perCluster), c, 0)
	for i, cc := range p.clusters {
		if cc == c {
			p.clusters = append(p.clusters[:i], p.clusters[i+1:]...)
			break
		}
	}
	p.elementsFree -= p.perCluster
	p.alloc.ReleaseBlock(c.block)
}

// Destroy runs the configured destructor over every still-occupied
// element, releases all backing blocks unconditionally and resets the
// pool to its freshly constructed state, ready for reuse.
func (p *Pool) Destroy() {
	if p.onDestroy != nil {
		p.onDestroy(p)
	}
	for _, c := range p.clusters {
		if p.destroy != nil {
			p.destroyOccupied(c)
		}
		p.alloc.ReleaseBlock(c.block)
	}
	p.clusters = nil
	p.linger = nil
	p.buckets = [numBuckets]bucket{}
	p.elementsFree = 0
}

// destroyOccupied walks c's elements in index order, skipping free
// ranges by their recorded length, and hands every occupied element
// to the destructor one at a time.
func (p *Pool) destroyOccupied(c *cluster) {
	for i := 0; i < p.perCluster; {
		if c.bits.get(i) {
			// every boundary bit met by an in-order walk heads a range
			i += int(c.head(i).length)
			continue
		}
		p.destroy(c.bytes(i, 1))
		i++
	}
}
