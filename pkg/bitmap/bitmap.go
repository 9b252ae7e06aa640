// Copyright 2021 The gVisor Authors.
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

// Package bitmap provides a fixed-capacity bitmap with range operations, used
// to track occupancy of page-granular resources.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxBitEntryLimit defines the upper limit on how many bit entries are
// supported by this Bitmap implementation.
const MaxBitEntryLimit uint32 = math.MaxInt32

// Bitmap implements an efficient fixed-size bitmap.
//
// Bitmap is not synchronized; callers serialize access.
type Bitmap struct {
	// size is the number of addressable bits. Bits at or above size in the
	// last block are always zero.
	size uint32

	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// bitBlock holds the bits. The type of bitBlock is uint64 which means
	// each number in bitBlock contains 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	if size > MaxBitEntryLimit {
		panic(fmt.Sprintf("requested bitmap size %d too large", size))
	}
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the number of addressable bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// checkRange panics if [begin, end) is empty or not contained in the bitmap.
func (b *Bitmap) checkRange(begin, end uint32) {
	if begin >= end || end > b.size {
		panic(fmt.Sprintf("bitmap range [%d, %d) invalid for size %d", begin, end, b.size))
	}
}

// forEachBlock calls fn with the block index and the mask of bits that
// [begin, end) covers in that block.
func forEachBlock(begin, end uint32, fn func(block uint32, mask uint64)) {
	for i := begin; i < end; {
		off := i % 64
		n := end - i
		if n > 64-off {
			n = 64 - off
		}
		mask := (^uint64(0) >> (64 - n)) << off
		fn(i/64, mask)
		i += n
	}
}

// Contains returns true if bit i is set.
func (b *Bitmap) Contains(i uint32) bool {
	b.checkRange(i, i+1)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i.
func (b *Bitmap) Add(i uint32) {
	b.SetRange(i, i+1)
}

// Remove clears bit i.
func (b *Bitmap) Remove(i uint32) {
	b.ClearRange(i, i+1)
}

// CountRange returns the number of set bits within [begin, end).
func (b *Bitmap) CountRange(begin, end uint32) uint32 {
	b.checkRange(begin, end)
	ones := 0
	forEachBlock(begin, end, func(block uint32, mask uint64) {
		ones += bits.OnesCount64(b.bitBlock[block] & mask)
	})
	return uint32(ones)
}

// IsRangeSet returns true if every bit within [begin, end) is set.
func (b *Bitmap) IsRangeSet(begin, end uint32) bool {
	return b.CountRange(begin, end) == end-begin
}

// IsRangeClear returns true if no bit within [begin, end) is set.
func (b *Bitmap) IsRangeClear(begin, end uint32) bool {
	return b.CountRange(begin, end) == 0
}

// SetRange sets bits within range [begin, end).
func (b *Bitmap) SetRange(begin, end uint32) {
	b.checkRange(begin, end)
	forEachBlock(begin, end, func(block uint32, mask uint64) {
		old := b.bitBlock[block]
		b.bitBlock[block] = old | mask
		b.numOnes += uint32(bits.OnesCount64(mask &^ old))
	})
}

// ClearRange clears bits within range [begin, end).
func (b *Bitmap) ClearRange(begin, end uint32) {
	b.checkRange(begin, end)
	forEachBlock(begin, end, func(block uint32, mask uint64) {
		old := b.bitBlock[block]
		b.bitBlock[block] = old &^ mask
		b.numOnes -= uint32(bits.OnesCount64(mask & old))
	})
}

// FirstZero returns the first unset bit from the range [start, size).
func (b *Bitmap) FirstZero(start uint32) (bit uint32, err error) {
	i, nbit := int(start/64), start%64
	n := len(b.bitBlock)
	if start >= b.size {
		return MaxBitEntryLimit, fmt.Errorf("given start of range exceeds bitmap size")
	}
	w := b.bitBlock[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint64(0) {
			r := uint32(bits.TrailingZeros64(^w) + i*64)
			if r >= b.size {
				break
			}
			return r, nil
		}
		i++
		if i == n {
			break
		}
		w = b.bitBlock[i]
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no unset bits")
}

// FindClearRun returns the first index that is a multiple of align and that
// starts count consecutive unset bits lying entirely within the bitmap. ok is
// false if there is no such run.
func (b *Bitmap) FindClearRun(count, align uint32) (start uint32, ok bool) {
	if count == 0 || align == 0 {
		panic(fmt.Sprintf("FindClearRun(%d, %d): count and align must be positive", count, align))
	}
	for start = 0; uint64(start)+uint64(count) <= uint64(b.size); start += align {
		if b.IsRangeClear(start, start+count) {
			return start, true
		}
	}
	return 0, false
}

// ToSlice transforms the Bitmap into slice. For example, a bitmap of [0, 1,
// 0, 1] will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	bitmapSlice := make([]uint32, 0, b.numOnes)
	// base is the start number of a bitBlock
	base := 0
	for i := 0; i < len(b.bitBlock); i++ {
		bitBlock := b.bitBlock[i]
		// Iterate through all the numbers held by this bit block.
		for bitBlock != 0 {
			// Extract the lowest set 1 bit.
			j := bitBlock & -bitBlock
			// Interpret the bit as the in32 number it represents and add it to result.
			bitmapSlice = append(bitmapSlice, uint32((base + int(bits.OnesCount64(j-1)))))
			bitBlock ^= j
		}
		base += 64
	}
	return bitmapSlice
}
