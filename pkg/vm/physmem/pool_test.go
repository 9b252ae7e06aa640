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

package physmem

import (
	"testing"

	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vm/platform"
)

func newTestPool(t *testing.T, pages int) *Pool {
	t.Helper()
	p, err := NewPool(pages)
	if err != nil {
		t.Fatalf("NewPool(%d) failed: %v", pages, err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return p
}

func TestExhaustion(t *testing.T) {
	const pages = 4
	p := newTestPool(t, pages)
	seen := make(map[platform.PhysAddr]bool)
	for i := 0; i < pages; i++ {
		pa, ok := p.GetPage()
		if !ok {
			t.Fatalf("GetPage #%d failed with %d free", i, p.Free())
		}
		if seen[pa] {
			t.Fatalf("GetPage returned %v twice", pa)
		}
		seen[pa] = true
	}
	if pa, ok := p.GetPage(); ok {
		t.Fatalf("GetPage on exhausted pool returned %v", pa)
	}
	if got := p.Free(); got != 0 {
		t.Errorf("Free() = %d, want 0", got)
	}
	for pa := range seen {
		p.PutPage(pa)
	}
	if got := p.Free(); got != pages {
		t.Errorf("Free() = %d, want %d", got, pages)
	}
}

func TestPagesZeroedOnReuse(t *testing.T) {
	p := newTestPool(t, 1)
	pa, ok := p.GetPage()
	if !ok {
		t.Fatalf("GetPage failed")
	}
	buf := p.Slice(pa)
	if len(buf) != hostarch.PageSize {
		t.Fatalf("len(Slice) = %d, want %d", len(buf), hostarch.PageSize)
	}
	for i := range buf {
		buf[i] = 0xa5
	}
	p.PutPage(pa)

	pa, ok = p.GetPage()
	if !ok {
		t.Fatalf("GetPage after PutPage failed")
	}
	for i, b := range p.Slice(pa) {
		if b != 0 {
			t.Fatalf("byte %d of reused page = %#x, want 0", i, b)
		}
	}
}

func TestPageContentIsolated(t *testing.T) {
	p := newTestPool(t, 2)
	a, _ := p.GetPage()
	b, _ := p.GetPage()
	p.Slice(a)[hostarch.PageSize-1] = 1
	if got := p.Slice(b)[0]; got != 0 {
		t.Errorf("write to %v leaked into %v", a, b)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := newTestPool(t, 1)
	pa, _ := p.GetPage()
	p.PutPage(pa)
	defer func() {
		if recover() == nil {
			t.Errorf("second PutPage(%v) did not panic", pa)
		}
	}()
	p.PutPage(pa)
}

func TestForeignAddressPanics(t *testing.T) {
	p := newTestPool(t, 1)
	for _, pa := range []platform.PhysAddr{0, base + 1, base + hostarch.PageSize} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Slice(%v) did not panic", pa)
				}
			}()
			p.Slice(pa)
		}()
	}
}

func TestInvalidSize(t *testing.T) {
	if _, err := NewPool(0); err == nil {
		t.Errorf("NewPool(0) succeeded")
	}
}
