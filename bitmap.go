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

// wordBits is the width of one bitmap word.
const wordBits = 64

// bitmap marks the boundaries of free ranges within one cluster.
// A set bit at index i means element i is the first or the last
// element of a maximal free range; a singleton range sets one bit
// only. Bits of occupied elements and of range interiors are always
// clear, so the bitmap stays sparse no matter how full the cluster is.
type bitmap []uint64

// bitmapWords returns the number of words needed to cover n elements.
func bitmapWords(n int) int {
	return (n + wordBits - 1) / wordBits
}

func (b bitmap) get(i int) bool {
	return b[i>>6]&(1<<(uint(i)&63)) != 0
}

// set marks bit i as a range boundary. The bit must currently be
// clear; a violation means an element was freed twice or the free
// records are corrupt.
func (b bitmap) set(i int) {
	w, m := i>>6, uint64(1)<<(uint(i)&63)
	if b[w]&m != 0 {
		panic("mpool: boundary bit already set")
	}
	b[w] |= m
}

// clear removes the boundary mark at bit i. The bit must be set.
func (b bitmap) clear(i int) {
	w, m := i>>6, uint64(1)<<(uint(i)&63)
	if b[w]&m == 0 {
		panic("mpool: boundary bit already clear")
	}
	b[w] &^= m
}
