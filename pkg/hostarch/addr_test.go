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

package hostarch

import "testing"

func TestAddrRounding(t *testing.T) {
	for _, test := range []struct {
		addr    Addr
		down    Addr
		up      Addr
		upOK    bool
		aligned bool
	}{
		{addr: 0, down: 0, up: 0, upOK: true, aligned: true},
		{addr: 1, down: 0, up: PageSize, upOK: true},
		{addr: PageSize - 1, down: 0, up: PageSize, upOK: true},
		{addr: PageSize, down: PageSize, up: PageSize, upOK: true, aligned: true},
		{addr: 3*PageSize + 17, down: 3 * PageSize, up: 4 * PageSize, upOK: true},
		{addr: ^Addr(0), down: ^Addr(PageSize - 1), upOK: false},
	} {
		if got := test.addr.RoundDown(); got != test.down {
			t.Errorf("%v.RoundDown() = %v, want %v", test.addr, got, test.down)
		}
		up, ok := test.addr.RoundUp()
		if ok != test.upOK || (ok && up != test.up) {
			t.Errorf("%v.RoundUp() = (%v, %t), want (%v, %t)", test.addr, up, ok, test.up, test.upOK)
		}
		if got := test.addr.IsPageAligned(); got != test.aligned {
			t.Errorf("%v.IsPageAligned() = %t, want %t", test.addr, got, test.aligned)
		}
	}
}

func TestPageOffset(t *testing.T) {
	if got, want := Addr(5*PageSize+123).PageOffset(), uint64(123); got != want {
		t.Errorf("PageOffset() = %d, want %d", got, want)
	}
}

func TestAddLength(t *testing.T) {
	if end, ok := Addr(PageSize).AddLength(PageSize); !ok || end != 2*PageSize {
		t.Errorf("AddLength(PageSize) = (%v, %t), want (%#x, true)", end, ok, 2*PageSize)
	}
	if _, ok := (^Addr(0)).AddLength(1); ok {
		t.Errorf("AddLength past the top of the address space did not report overflow")
	}
}

func TestPageRoundInteger(t *testing.T) {
	if got := PageRoundDown(int64(PageSize + 1)); got != PageSize {
		t.Errorf("PageRoundDown(PageSize+1) = %d, want %d", got, PageSize)
	}
	if got, ok := PageRoundUp(uint32(1)); !ok || got != PageSize {
		t.Errorf("PageRoundUp(1) = (%d, %t), want (%d, true)", got, ok, PageSize)
	}
	if _, ok := PageRoundUp(^uint32(0)); ok {
		t.Errorf("PageRoundUp(MaxUint32) did not report wraparound")
	}
}

func TestAccessTypeString(t *testing.T) {
	for at, want := range map[AccessType]string{
		NoAccess:  "--",
		Read:      "r-",
		Write:     "-w",
		ReadWrite: "rw",
	} {
		if got := at.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", at, got, want)
		}
	}
}
