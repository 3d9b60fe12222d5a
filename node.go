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

// A free range keeps its bookkeeping inside the elements it covers;
// no metadata lives outside the clusters. The first slot of a range
// holds a headNode and, for ranges longer than one element, the last
// slot holds a tailNode. The bitmap says which slots carry records.
//
// The two layouts share their second word: a head keeps the range
// length there and a length is never zero, while a tail keeps zero.
// Probing a neighbour slot during coalescing reads that word to tell
// the tail of a multi-element range from a singleton head.

// ref is an opaque handle to an element slot: cluster id in the high
// 32 bits, element index in the low 32. Cluster ids start at 1, so
// the zero ref doubles as the nil link.
type ref uint64

const nilRef ref = 0

func makeRef(id uint32, index int) ref {
	return ref(uint64(id)<<32 | uint64(uint32(index)))
}

func (r ref) clusterID() uint32 { return uint32(r >> 32) }
func (r ref) index() int        { return int(uint32(r)) }

// headNode overlays the first slot of a free range.
type headNode struct {
	next   ref    // following range in the same bucket, nilRef at the end
	length uint64 // elements covered by the range, always >= 1
	prev   ref    // preceding range in the same bucket, nilRef at the front
}

// tailNode overlays the last slot of a free range of length > 1.
type tailNode struct {
	head uint64 // element index of the range head, always the same cluster
	zero uint64 // the null sentinel, see above
}

// nodeSize is the storage a free-slot record needs. Element sizes are
// clamped to it so the records always fit in place.
const nodeSize = int(unsafe.Sizeof(headNode{}))
