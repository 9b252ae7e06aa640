// Copyright 2020 The gVisor Authors.
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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// undoSteps simulates a multi-step operation that fails after the given
// number of steps and records the order in which steps are undone.
func undoSteps(steps, failAfter int) (undone []int, release func()) {
	cu := Make(func() { undone = append(undone, 0) })
	defer cu.Clean()
	for i := 1; i < steps; i++ {
		if i == failAfter {
			return undone, nil
		}
		cu.Add(func() { undone = append(undone, i) })
	}
	return undone, cu.Release()
}

func TestCleanReverseOrder(t *testing.T) {
	var order []int
	func() {
		cu := Make(func() { order = append(order, 0) })
		defer cu.Clean()
		cu.Add(func() { order = append(order, 1) })
		cu.Add(func() { order = append(order, 2) })
	}()
	if diff := cmp.Diff([]int{2, 1, 0}, order); diff != "" {
		t.Errorf("cleanup order mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanOnFailure(t *testing.T) {
	var undone []int
	cu := Make(func() { undone = append(undone, 0) })
	cu.Add(func() { undone = append(undone, 1) })
	cu.Clean()
	cu.Clean() // Cleaning twice runs nothing new.
	if diff := cmp.Diff([]int{1, 0}, undone); diff != "" {
		t.Errorf("undone steps mismatch (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	undone, release := undoSteps(3, -1)
	if len(undone) != 0 {
		t.Fatalf("cleanup ran despite Release: %v", undone)
	}
	if release == nil {
		t.Fatalf("Release returned nil")
	}
}

func TestUndoOnFailure(t *testing.T) {
	undone, release := undoSteps(4, 2)
	if release != nil {
		t.Errorf("failed operation returned a release function")
	}
	if diff := cmp.Diff([]int{1, 0}, undone); diff != "" {
		t.Errorf("undone steps mismatch (-want +got):\n%s", diff)
	}
}

func TestReleasedFunctionsStillCallable(t *testing.T) {
	var ran []string
	cu := Make(func() { ran = append(ran, "first") })
	cu.Add(func() { ran = append(ran, "second") })
	f := cu.Release()
	cu.Clean()
	if len(ran) != 0 {
		t.Fatalf("Clean after Release ran %v", ran)
	}
	f()
	if diff := cmp.Diff([]string{"second", "first"}, ran); diff != "" {
		t.Errorf("released functions mismatch (-want +got):\n%s", diff)
	}
}
