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

package page

import (
	"fmt"

	"vmcore.dev/vmcore/pkg/hostarch"
	"vmcore.dev/vmcore/pkg/vm/platform"
	"vmcore.dev/vmcore/pkg/vm/swap"
)

// Kind classifies where a page's content comes from.
type Kind int

const (
	// KindBinary pages are read from an executable.
	KindBinary Kind = iota

	// KindMappedFile pages belong to a memory-mapped file. They are not
	// supported: faulting or evicting one is fatal.
	KindMappedFile

	// KindAnonymous pages are zero-filled on first use and swap-backed
	// afterwards.
	KindAnonymous

	// KindStack pages belong to the process stack.
	KindStack
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindMappedFile:
		return "mapped-file"
	case KindAnonymous:
		return "anonymous"
	case KindStack:
		return "stack"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Origin describes how to materialize a page. It is one of Binary,
// MappedFile, Anonymous or Stack.
type Origin interface {
	// Kind returns the origin's kind.
	Kind() Kind

	// validate panics if the origin is malformed.
	validate()
}

// FileRange is the part of a file that backs one page: ReadBytes bytes at
// Offset, followed by ZeroBytes zero bytes.
type FileRange struct {
	File      platform.File
	Offset    int64
	ReadBytes uint32
	ZeroBytes uint32
}

func (fr FileRange) validate() {
	if uint64(fr.ReadBytes)+uint64(fr.ZeroBytes) != hostarch.PageSize {
		panic(fmt.Sprintf("read bytes %d + zero bytes %d != page size %d", fr.ReadBytes, fr.ZeroBytes, hostarch.PageSize))
	}
	if fr.ReadBytes > 0 {
		if fr.File == nil {
			panic("file-backed page without a file")
		}
		if fr.Offset < 0 || hostarch.PageRoundDown(fr.Offset) != fr.Offset {
			panic(fmt.Sprintf("file offset %#x is not page aligned", fr.Offset))
		}
	}
}

// Binary is the origin of a page loaded from an executable segment.
type Binary struct {
	FileRange
}

// Kind implements Origin.Kind.
func (Binary) Kind() Kind { return KindBinary }

// MappedFile is the origin of a page of a memory-mapped file.
type MappedFile struct {
	FileRange
}

// Kind implements Origin.Kind.
func (MappedFile) Kind() Kind { return KindMappedFile }

// Anonymous is the origin of a page with no backing file. Its content is on
// swap in Slot iff OnSwap.
type Anonymous struct {
	Slot   swap.Run
	OnSwap bool
}

// Kind implements Origin.Kind.
func (Anonymous) Kind() Kind { return KindAnonymous }

func (Anonymous) validate() {}

// Stack is the origin of a stack page. Its content is on swap in Slot iff
// OnSwap.
type Stack struct {
	Slot   swap.Run
	OnSwap bool
}

// Kind implements Origin.Kind.
func (Stack) Kind() Kind { return KindStack }

func (Stack) validate() {}

// SwapSlot returns the run holding o's content, if o's content is on swap.
func SwapSlot(o Origin) (swap.Run, bool) {
	switch o := o.(type) {
	case Anonymous:
		return o.Slot, o.OnSwap
	case Stack:
		return o.Slot, o.OnSwap
	default:
		return 0, false
	}
}

// WithSlot returns o, which must be swap-backed, with its content recorded
// as being in run r.
func WithSlot(o Origin, r swap.Run) Origin {
	switch o.(type) {
	case Stack:
		return Stack{Slot: r, OnSwap: true}
	case Anonymous, Binary:
		return Anonymous{Slot: r, OnSwap: true}
	default:
		panic(fmt.Sprintf("%v pages cannot be swapped", o.Kind()))
	}
}

// WithoutSlot returns o with its swap slot forgotten. It is used once the
// slot has been consumed or freed.
func WithoutSlot(o Origin) Origin {
	switch o.(type) {
	case Anonymous:
		return Anonymous{}
	case Stack:
		return Stack{}
	default:
		return o
	}
}
