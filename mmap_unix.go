//go:build linux || darwin

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

import "golang.org/x/sys/unix"

// MmapAllocator backs clusters with anonymous mappings. Unlike the
// default heap provider, ReleaseBlock returns the pages to the
// operating system immediately, which makes the pool's linger policy
// the only thing standing between alloc/free churn and mmap/munmap
// churn.
type MmapAllocator struct{}

func (MmapAllocator) AllocBlock(size int) []byte {
	b, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	return b
}

func (MmapAllocator) ReleaseBlock(block []byte) {
	_ = unix.Munmap(block)
}
