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

import "unsafe"

// cluster is one contiguous backing block: the bitmap words first,
// then capElems fixed-size element slots. A cluster is never resized;
// the pool grows by allocating whole new clusters.
type cluster struct {
	id    uint32
	block []byte // the raw backing block, exactly as the allocator returned it

	bits bitmap // view over the bitmap region at the start of block

	// slots is a cached pointer to the first element, so address<->index
	// arithmetic never re-derives the bitmap offset.
	slots unsafe.Pointer

	elemSize int
	capElems int
}

// newCluster lays a cluster out over block. Only the bitmap region is
// cleared; element slots keep whatever the allocator left in them.
func newCluster(id uint32, block []byte, elemSize, capElems int) *cluster {
	words := bitmapWords(capElems)
	c := &cluster{
		id:       id,
		block:    block,
		bits:     unsafe.Slice((*uint64)(unsafe.Pointer(&block[0])), words),
		slots:    unsafe.Pointer(&block[words*(wordBits/8)]),
		elemSize: elemSize,
		capElems: capElems,
	}
	for i := range c.bits {
		c.bits[i] = 0
	}
	return c
}

// elem returns the address of element i.
func (c *cluster) elem(i int) unsafe.Pointer {
	return unsafe.Add(c.slots, i*c.elemSize)
}

// index maps an address inside the slot area back to its element index.
func (c *cluster) index(p unsafe.Pointer) int {
	return int((uintptr(p) - uintptr(c.slots)) / uintptr(c.elemSize))
}

// contains reports whether p falls within the cluster's element slots.
func (c *cluster) contains(p unsafe.Pointer) bool {
	// the subtraction wraps for p below slots, failing the comparison
	return uintptr(p)-uintptr(c.slots) < uintptr(c.capElems*c.elemSize)
}

// bytes returns the caller-facing slice for n elements starting at i,
// with the cap pinned so appends cannot bleed into the neighbours.
func (c *cluster) bytes(i, n int) []byte {
	return unsafe.Slice((*byte)(c.elem(i)), n*c.elemSize)
}

// head and tail reinterpret free slots as their in-place records. The
// bitmap decides which view is valid; reading either one on an
// occupied slot yields garbage.
func (c *cluster) head(i int) *headNode { return (*headNode)(c.elem(i)) }
func (c *cluster) tail(i int) *tailNode { return (*tailNode)(c.elem(i)) }

// fullyFree reports whether one free range spans the whole cluster.
func (c *cluster) fullyFree() bool {
	return c.bits.get(0) && c.head(0).length == uint64(c.capElems)
}
