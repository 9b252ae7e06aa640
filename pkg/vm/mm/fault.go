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

	"vmcore.dev/vmcore/pkg/cleanup"
	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/page"
)

// stackSlack is how far below the stack pointer an access may fault and
// still grow the stack. It covers instructions that write below the stack
// pointer before moving it.
const stackSlack = 32

// HandleFault resolves a fault at va. An error means the process cannot
// continue and must be terminated.
func (mm *MemoryManager) HandleFault(va hostarch.Addr) error {
	e := mm.dir.Lookup(va)
	if e == nil {
		log.Warningf("%v: fault at unmapped address %v", mm, va)
		return fmt.Errorf("fault at %v: %w", va, ErrBadAddress)
	}
	return mm.resolve(e)
}

// HandleFaultWithSP is HandleFault for a fault taken with stack pointer sp. A
// fault at an undeclared address just below sp, within the stack limit, grows
// the stack by one page.
func (mm *MemoryManager) HandleFaultWithSP(va, sp hostarch.Addr) error {
	e := mm.dir.Lookup(va)
	if e == nil && mm.isStackGrowth(va, sp) {
		var err error
		e, err = mm.dir.Declare(page.Stack{}, va.RoundDown(), true)
		if errors.Is(err, page.ErrExists) {
			e = mm.dir.Lookup(va)
		} else if err != nil {
			return err
		}
		log.Debugf("%v: stack grown to %v", mm, va.RoundDown())
	}
	if e == nil {
		log.Warningf("%v: fault at unmapped address %v (sp %v)", mm, va, sp)
		return fmt.Errorf("fault at %v: %w", va, ErrBadAddress)
	}
	return mm.resolve(e)
}

// isStackGrowth returns true if a fault at va with stack pointer sp should
// grow the stack.
func (mm *MemoryManager) isStackGrowth(va, sp hostarch.Addr) bool {
	top := hostarch.Addr(mm.sys.conf.StackTop)
	bottom := top - hostarch.Addr(mm.sys.conf.MaxStackSize)
	low := hostarch.Addr(0)
	if sp > stackSlack {
		low = sp - stackSlack
	}
	return va >= low && va > bottom && va < top
}

func (mm *MemoryManager) resolve(e *page.Entry) error {
	if err := mm.ResolveFault(e); err != nil {
		log.Warningf("%v: %v", mm, err)
		return err
	}
	return nil
}

// ResolveFault makes page e resident: it obtains a frame, fills it from the
// page's origin and maps it. It does nothing if e is already resident.
func (mm *MemoryManager) ResolveFault(e *page.Entry) error {
	e.Lock()
	defer e.Unlock()
	if e.DeadLocked() {
		return fmt.Errorf("fault on %v of exited process: %w", e, ErrBadAddress)
	}
	if e.LoadedLocked() {
		return nil
	}

	frames := mm.sys.frames
	f, err := frames.Acquire(mm, e)
	if err != nil {
		return fmt.Errorf("fault on %v: %w", e, err)
	}
	cu := cleanup.Make(func() { frames.Release(f.PhysAddr()) })
	defer cu.Clean()

	buf := mm.sys.alloc.Slice(f.PhysAddr())
	if err := mm.populateLocked(e, buf, &cu); err != nil {
		return fmt.Errorf("fault on %v: %w", e, err)
	}
	if !mm.mmu.Install(e.Addr(), f.PhysAddr(), e.Writable()) {
		return fmt.Errorf("fault on %v: %w", e, ErrInstall)
	}
	e.SetLoadedLocked(true)
	cu.Release()
	f.Unpin()
	return nil
}

// populateLocked fills buf with e's content. Steps that must be undone if the
// fault later fails are added to cu.
//
// +checklocks:e.mu
func (mm *MemoryManager) populateLocked(e *page.Entry, buf []byte, cu *cleanup.Cleanup) error {
	switch o := e.OriginLocked().(type) {
	case page.Binary:
		if o.ReadBytes > 0 {
			n, err := o.File.ReadAt(buf[:o.ReadBytes], o.Offset)
			// A reader may report io.EOF along with a complete read.
			if n != int(o.ReadBytes) {
				return fmt.Errorf("read %d of %d bytes at offset %#x: %w: %v", n, o.ReadBytes, o.Offset, ErrShortRead, err)
			}
		}
		clear(buf[o.ReadBytes:])

	case page.Anonymous, page.Stack:
		r, onSwap := page.SwapSlot(o)
		if !onSwap {
			if o.Kind() == page.KindAnonymous {
				clear(buf)
			}
			// A new stack page holds whatever the allocator delivered.
			return nil
		}
		if err := mm.sys.swap.ReadIn(r, buf); err != nil {
			return err
		}
		e.SetOriginLocked(page.WithoutSlot(o))
		cu.Add(func() { mm.reswapLocked(e, o, buf) })

	case page.MappedFile:
		panic(fmt.Sprintf("fault on %v: memory-mapped files are not supported", e))

	default:
		panic(fmt.Sprintf("fault on %v: unknown origin %T", e, o))
	}
	return nil
}

// reswapLocked returns content read in from swap by a fault that then failed.
//
// +checklocks:e.mu
func (mm *MemoryManager) reswapLocked(e *page.Entry, o page.Origin, buf []byte) {
	r, err := mm.sys.swap.SwapOut(buf)
	if err != nil {
		log.Warningf("%v: content of %v lost, cannot return it to swap: %v", mm, e, err)
		return
	}
	e.SetOriginLocked(page.WithSlot(o, r))
}
