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

import "github.com/bytedance/gopkg/lang/dirtmake"

// BlockAllocator provides the backing memory for clusters. It is
// fixed at pool construction; every cluster of a pool comes from, and
// goes back to, the same provider.
//
// AllocBlock returns a block of exactly the requested size, 8-byte
// aligned (any Go heap or mmap allocation qualifies), or nil when no
// memory is available. The block does not need to be zeroed.
// ReleaseBlock receives exactly the slice AllocBlock returned.
type BlockAllocator interface {
	AllocBlock(size int) []byte
	ReleaseBlock(block []byte)
}

// heapAllocator is the default provider. Blocks come from the Go heap
// without zeroing and are released by dropping the reference.
type heapAllocator struct{}

func (heapAllocator) AllocBlock(size int) []byte { return dirtmake.Bytes(size, size) }

func (heapAllocator) ReleaseBlock([]byte) {}
