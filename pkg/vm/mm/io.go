// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mm

import (
	"errors"
	"fmt"

	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

// CheckRange returns ErrBadAddress unless every page in [addr, addr+length)
// is declared.
func (mm *MemoryManager) CheckRange(addr hostarch.Addr, length uint64) error {
	if length == 0 {
		return nil
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return fmt.Errorf("range %v+%d overflows: %w", addr, length, ErrBadAddress)
	}
	for va := addr.RoundDown(); va < end; va += hostarch.PageSize {
		if mm.dir.Lookup(va) == nil {
			return fmt.Errorf("%v is not mapped: %w", va, ErrBadAddress)
		}
		if va+hostarch.PageSize < va {
			break
		}
	}
	return nil
}

// CopyOut copies src to the process's memory at addr, faulting pages in as
// needed. It returns the number of bytes copied.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return mm.withPages(addr, len(src), hostarch.Write, func(mem []byte, done int) {
		copy(mem, src[done:])
	})
}

// CopyIn copies the process's memory at addr into dst, faulting pages in as
// needed. It returns the number of bytes copied.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return mm.withPages(addr, len(dst), hostarch.Read, func(mem []byte, done int) {
		copy(dst[done:], mem)
	})
}

// withPages calls fn for each page-sized piece of [addr, addr+n) with the
// piece's memory and the number of bytes already handled.
func (mm *MemoryManager) withPages(addr hostarch.Addr, n int, at hostarch.AccessType, fn func(mem []byte, done int)) (int, error) {
	if err := mm.CheckRange(addr, uint64(n)); err != nil {
		return 0, err
	}
	done := 0
	for done < n {
		cp, err := mm.accessPage(addr+hostarch.Addr(done), n-done, at, func(mem []byte) {
			fn(mem, done)
		})
		if err != nil {
			return done, err
		}
		done += cp
	}
	return done, nil
}

// accessPage performs an access of at most limit bytes at va, all within va's
// page, resolving faults until the access succeeds.
func (mm *MemoryManager) accessPage(va hostarch.Addr, limit int, at hostarch.AccessType, fn func(mem []byte)) (int, error) {
	for {
		e := mm.dir.Lookup(va)
		if e == nil {
			return 0, fmt.Errorf("%v is not mapped: %w", va, ErrBadAddress)
		}
		e.Lock()
		pa, err := mm.mmu.Translate(va, at)
		if err == nil {
			mem := mm.sys.alloc.Slice(pa)[va.PageOffset():]
			if len(mem) > limit {
				mem = mem[:limit]
			}
			fn(mem)
			e.Unlock()
			return len(mem), nil
		}
		e.Unlock()

		var fe *platform.FaultError
		if !errors.As(err, &fe) {
			return 0, err
		}
		if fe.Present {
			return 0, fmt.Errorf("%w: %w", ErrBadAddress, err)
		}
		if err := mm.HandleFault(va); err != nil {
			return 0, err
		}
	}
}
