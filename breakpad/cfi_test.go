/* Copyright 2013 Google Inc. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package breakpad

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cfiModuleSym reproduces the classic x86 "save four callee-saved
// registers plus the return address relative to .cfa" prologue, the same
// shape the original resolver's unit test recovers.
const cfiModuleSym = `MODULE linux x86 000000000000000000000000000000000000000 cfimodule
FUNC 3d40 b0 0 RecoverCallee
STACK CFI INIT 3d40 b0 .cfa: $esp 4 + .ra: .cfa 4 - ^ $ebp: .cfa 8 - ^ $ebx: .cfa 0x14 - ^ $esi: .cfa 0x10 - ^ $edi: .cfa 0xc - ^
`

func buildCFIModule(t *testing.T) *ModuleIndex {
	t.Helper()
	idx := BuildModuleIndex("cfi.sym", strings.NewReader(cfiModuleSym), nil)
	require.False(t, idx.Corrupt)
	return idx
}

func TestCFIEvaluatorRecoversCallerRegisters(t *testing.T) {
	idx := buildCFIModule(t)
	rs := idx.FindCFI(0x3d41)
	require.NotNil(t, rs)

	mem := fakeMemory{
		0x10018: 0xf6438648, // saved return address, at .cfa - 4
		0x10014: 0x10038,    // saved $ebp, at .cfa - 8
		0x10008: 0x1,        // saved $ebx, at .cfa - 0x14
		0x1000c: 0x2,        // saved $esi, at .cfa - 0x10
		0x10010: 0x3,        // saved $edi, at .cfa - 0xc
	}
	current := map[string]uint64{
		"$esp": 0x10018,
		"$ebp": 0,
		"$ebx": 0,
		"$esi": 0,
		"$edi": 0,
	}

	eval := NewCFIEvaluator(32)
	caller, ok := eval.CallerRegisters(rs, 0x3d41, current, mem)
	require.True(t, ok)

	assert.Equal(t, uint64(0x1001c), caller[".cfa"])
	assert.Equal(t, uint64(0xf6438648), caller[".ra"])
	assert.Equal(t, uint64(0x10038), caller["$ebp"])
	assert.Equal(t, uint64(0x1), caller["$ebx"])
	assert.Equal(t, uint64(0x2), caller["$esi"])
	assert.Equal(t, uint64(0x3), caller["$edi"])
}

func TestCFIEvaluatorSameResultAcrossRange(t *testing.T) {
	// The rule set has no deltas, so every pc in [0x3d40, 0x3df0) resolves
	// identically regardless of the callee's unrelated register contents.
	idx := buildCFIModule(t)
	mem := fakeMemory{
		0x10018: 0xf6438648,
		0x10014: 0x10038,
		0x10008: 0x1,
		0x1000c: 0x2,
		0x10010: 0x3,
	}
	eval := NewCFIEvaluator(32)

	for _, pc := range []uint64{0x3d41, 0x3d54, 0x3dea} {
		rs := idx.FindCFI(pc)
		require.NotNil(t, rs)
		current := map[string]uint64{"$esp": 0x10018, "$ebp": 0xbaadf00d}
		caller, ok := eval.CallerRegisters(rs, pc, current, mem)
		require.True(t, ok)
		assert.Equal(t, uint64(0x10038), caller["$ebp"])
	}
}

func TestCFIOutOfRangeReturnsNoRuleSet(t *testing.T) {
	idx := buildCFIModule(t)
	assert.Nil(t, idx.FindCFI(0x5000))
}

func TestCFIEvaluatorFailsWithoutCFA(t *testing.T) {
	rs := &CFIRuleSet{
		AddrRange: AddrRange{Address: 0x1000, Size: 0x10},
		Initial:   map[string]string{".ra": "$esp 4 +"},
	}
	eval := NewCFIEvaluator(32)
	_, ok := eval.CallerRegisters(rs, 0x1000, map[string]uint64{"$esp": 0x2000}, fakeMemory{})
	assert.False(t, ok)
}

func TestCFIEvaluatorFailsWithoutRA(t *testing.T) {
	rs := &CFIRuleSet{
		AddrRange: AddrRange{Address: 0x1000, Size: 0x10},
		Initial:   map[string]string{".cfa": "$esp 4 +"},
	}
	eval := NewCFIEvaluator(32)
	_, ok := eval.CallerRegisters(rs, 0x1000, map[string]uint64{"$esp": 0x2000}, fakeMemory{})
	assert.False(t, ok)
}

func TestCFIEvaluatorFailsOnBadRegisterExpression(t *testing.T) {
	rs := &CFIRuleSet{
		AddrRange: AddrRange{Address: 0x1000, Size: 0x10},
		Initial: map[string]string{
			".cfa": "$esp 4 +",
			".ra":  ".cfa 4 - ^",
			"$ebx": "$unbound 4 +",
		},
	}
	eval := NewCFIEvaluator(32)
	mem := fakeMemory{0x2000: 0x1}
	_, ok := eval.CallerRegisters(rs, 0x1000, map[string]uint64{"$esp": 0x2000}, mem)
	assert.False(t, ok)
}
