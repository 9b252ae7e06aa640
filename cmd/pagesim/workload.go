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

package main

import (
	"bytes"
	"fmt"
	"math/rand"

	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/log"
	"vmcore.dev/vmcore/pkg/vm/mm"
	"vmcore.dev/vmcore/pkg/vm/page"
	"vmcore.dev/vmcore/pkg/vm/pagetable"
)

const (
	textBase = hostarch.Addr(0x400000)
	anonBase = hostarch.Addr(0x10000000)

	// textTail is the number of zero bytes that end the text segment.
	textTail = 100

	// maxTouch bounds the length of a single access.
	maxTouch = 2 * hostarch.PageSize
)

// region is a range of a process's memory together with the bytes it should
// hold.
type region struct {
	start  hostarch.Addr
	shadow []byte
}

// workload is the memory activity of one simulated process.
type workload struct {
	pages   int
	touches int
	rng     *rand.Rand
}

// run creates a process on sys, touches its memory at random and checks every
// read against what was last written. The process is released on return.
func (w *workload) run(sys *mm.System, stackTop hostarch.Addr) error {
	p := sys.NewMemoryManager(pagetable.New())
	defer p.Release()

	regions, err := w.layout(p, stackTop)
	if err != nil {
		return fmt.Errorf("%v: %w", p, err)
	}

	buf := make([]byte, maxTouch)
	for i := 0; i < w.touches; i++ {
		r := regions[w.rng.Intn(len(regions))]
		off := w.rng.Intn(len(r.shadow))
		n := 1 + w.rng.Intn(min(maxTouch, len(r.shadow)-off))
		addr := r.start + hostarch.Addr(off)
		want := r.shadow[off : off+n]

		if w.rng.Intn(2) == 0 {
			w.rng.Read(want)
			if _, err := p.CopyOut(addr, want); err != nil {
				return fmt.Errorf("%v: write of %d bytes at %v: %w", p, n, addr, err)
			}
			continue
		}
		got := buf[:n]
		if _, err := p.CopyIn(addr, got); err != nil {
			return fmt.Errorf("%v: read of %d bytes at %v: %w", p, n, addr, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("%v: memory at %v does not hold what was written", p, addr)
		}
	}
	log.Debugf("%v: %d touches done, %d of %d pages resident", p, w.touches, p.ResidentPages(), p.DeclaredPages())
	return nil
}

// layout declares the process's memory: a text segment read from an image,
// anonymous pages and a stack grown by faults. pages is split between the
// three.
func (w *workload) layout(p *mm.MemoryManager, stackTop hostarch.Addr) ([]region, error) {
	textPages := max(1, w.pages/4)
	stackPages := max(1, w.pages/4)
	anonPages := max(1, w.pages-textPages-stackPages)

	size := textPages * hostarch.PageSize
	image := make([]byte, size)
	w.rng.Read(image)
	readBytes := uint64(size - textTail)
	if err := p.DeclareSegment(bytes.NewReader(image), 0, textBase, readBytes, textTail, true); err != nil {
		return nil, err
	}
	text := region{start: textBase, shadow: bytes.Clone(image)}
	clear(text.shadow[readBytes:])

	for i := 0; i < anonPages; i++ {
		if _, err := p.DeclarePage(page.Anonymous{}, anonBase+hostarch.Addr(i*hostarch.PageSize), true); err != nil {
			return nil, err
		}
	}
	anon := region{start: anonBase, shadow: make([]byte, anonPages*hostarch.PageSize)}

	// Each fault just below the previous one moves the stack down a page.
	bottom := stackTop - hostarch.Addr(stackPages*hostarch.PageSize)
	for va := stackTop - hostarch.PageSize; va >= bottom; va -= hostarch.PageSize {
		if err := p.HandleFaultWithSP(va, va); err != nil {
			return nil, err
		}
	}
	stack := region{start: bottom, shadow: make([]byte, stackPages*hostarch.PageSize)}
	// Fresh stack pages have no defined content; start from whatever is there.
	if _, err := p.CopyIn(stack.start, stack.shadow); err != nil {
		return nil, err
	}

	return []region{text, anon, stack}, nil
}
