/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package entropy

import (
	"golang.org/x/sys/unix"
)

// Buffer holds transient secret material. The backing memory is wired with
// mlock where the platform permits, so secrets cannot be paged out while a
// provisioning cycle is in flight. Destroy wipes the content; secret
// material never outlives the generate-validate-write-verify cycle that
// created it.
type Buffer struct {
	data   []byte
	locked bool
}

// NewBuffer allocates a zeroed secret buffer of the given size.
func NewBuffer(size int) *Buffer {
	b := &Buffer{data: make([]byte, size)}
	// Locking requires CAP_IPC_LOCK or a sufficient RLIMIT_MEMLOCK. The
	// wipe in Destroy does not depend on it, so a failure is tolerated.
	if err := unix.Mlock(b.data); err == nil {
		b.locked = true
	}
	return b
}

// Bytes returns the backing slice. The slice is invalid after Destroy.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Destroy wipes the buffer and releases the memory lock. It is safe to call
// multiple times.
func (b *Buffer) Destroy() {
	if b.data == nil {
		return
	}
	wipe(b.data)
	if b.locked {
		_ = unix.Munlock(b.data)
		b.locked = false
	}
	b.data = nil
}

func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
