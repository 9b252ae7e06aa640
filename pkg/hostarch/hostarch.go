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

// Package hostarch describes the page geometry shared by the virtual memory
// subsystem.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift
)

// AccessType specifies the kind of a memory access.
type AccessType struct {
	// Read is read access.
	Read bool

	// Write is write access.
	Write bool
}

var (
	// NoAccess denies all access.
	NoAccess = AccessType{}

	// Read is read-only access.
	Read = AccessType{Read: true}

	// Write is write-only access.
	Write = AccessType{Write: true}

	// ReadWrite is read and write access.
	ReadWrite = AccessType{Read: true, Write: true}
)

// String returns a pretty representation of access. This looks like the
// familiar r- notation.
func (a AccessType) String() string {
	bits := [2]byte{'-', '-'}
	if a.Read {
		bits[0] = 'r'
	}
	if a.Write {
		bits[1] = 'w'
	}
	return string(bits[:])
}
