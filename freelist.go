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

package mpool

import "math/bits"

// numBuckets is the number of size classes in the free lists. Bucket
// b holds free ranges of length in (2^(b-1), 2^b]; bucket 0 holds
// singletons and the last bucket is an unbounded overflow class.
const numBuckets = 8

// bucket chains free-range head records through their in-slot links.
// FIFO order within a bucket carries no meaning beyond which matching
// range gets reused first.
type bucket struct {
	head, tail ref
}

// bucketFor returns the size class for a range of length n: the
// smallest b with 2^b >= n, clamped to the overflow bucket.
func bucketFor(n int) int {
	b := bits.Len(uint(n - 1))
	if b >= numBuckets {
		b = numBuckets - 1
	}
	return b
}

// clusterByID resolves the cluster a ref points into. The collection
// is scanned newest-first; pools hold few clusters, so lookups stay
// linear just like the address scan in Free.
func (p *Pool) clusterByID(id uint32) *cluster {
	for i := len(p.clusters) - 1; i >= 0; i-- {
		if c := p.clusters[i]; c.id == id {
			return c
		}
	}
	panic("mpool: dangling cluster reference")
}

// node resolves a ref to the head record it designates.
func (p *Pool) node(r ref) *headNode {
	return p.clusterByID(r.clusterID()).head(r.index())
}

// pushTail appends the free range headed at (c, i) to bucket b. The
// range's record must already carry its length.
func (p *Pool) pushTail(b int, c *cluster, i int) {
	r := makeRef(c.id, i)
	h := c.head(i)
	h.next = nilRef
	h.prev = p.buckets[b].tail
	if h.prev != nilRef {
		p.node(h.prev).next = r
	} else {
		p.buckets[b].head = r
	}
	p.buckets[b].tail = r
}

// unlink removes the free range headed at (c, i) from bucket b.
func (p *Pool) unlink(b int, c *cluster, i int) {
	h := c.head(i)
	if h.prev != nilRef {
		p.node(h.prev).next = h.next
	} else {
		p.buckets[b].head = h.next
	}
	if h.next != nilRef {
		p.node(h.next).prev = h.prev
	} else {
		p.buckets[b].tail = h.prev
	}
}

// search finds a free range of at least n elements. It stops at the
// first non-empty bucket at or above the class of n and scans only
// that bucket: if every record there is too short the search fails
// even when a later bucket holds a large enough range. This is an
// accepted fragmentation trade-off and must not be "fixed" into a
// best-fit across buckets; callers lean on the cheap failure path.
func (p *Pool) search(n int) (*cluster, int, bool) {
	b := bucketFor(n)
	for b < numBuckets-1 && p.buckets[b].head == nilRef {
		b++
	}
	for r := p.buckets[b].head; r != nilRef; {
		c := p.clusterByID(r.clusterID())
		i := r.index()
		h := c.head(i)
		if h.length >= uint64(n) {
			return c, i, true
		}
		r = h.next
	}
	return nil, 0, false
}
