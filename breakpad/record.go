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

// NoFileID is the sentinel file id meaning "artificial / compiler-generated"
// and is also used for InlineOrigin file ids omitted under the extended
// schema and InlineRecord call-site file ids omitted under the legacy schema.
const NoFileID int32 = -1

// SourceFile is one FILE record.
type SourceFile struct {
	FileID int32
	Name   string
}

// InlineOrigin describes the callee of an inlined call (one INLINE_ORIGIN
// record). FileID is NoFileID when the record used the extended schema,
// which omits it (the call site then carries the file id instead).
type InlineOrigin struct {
	OriginID int32
	FileID   int32
	Name     string
}

// AddrRange is a half-open byte range [Address, Address+Size).
type AddrRange struct {
	Address uint64
	Size    uint64
}

func (r AddrRange) contains(addr uint64) bool {
	return addr >= r.Address && addr < r.Address+r.Size
}

// Line covers AddrRange with a source line number and file.
type Line struct {
	AddrRange
	LineNumber int32
	FileID     int32
}

// InlineRecord is one INLINE record, reparented into a tree by nest level
// during parsing.
type InlineRecord struct {
	NestLevel      int32
	CallSiteLine   int32
	CallSiteFileID int32 // NoFileID if the record used the legacy schema.
	OriginID       int32
	Ranges         []AddrRange

	Children []*InlineRecord
}

// coveringChild returns the child InlineRecord whose Ranges contain addr,
// or nil.
func (r *InlineRecord) coveringChild(addr uint64) *InlineRecord {
	for _, c := range r.Children {
		for _, rng := range c.Ranges {
			if rng.contains(addr) {
				return c
			}
		}
	}
	return nil
}

// Function is one FUNC record plus the Lines and inline tree attached to it
// while it was the "current function" during parsing.
type Function struct {
	AddrRange
	StackParamSize int32
	Name           string
	Multiple       bool

	Lines   []Line
	Inlines []*InlineRecord // roots of the inline tree (nest level 0).
}

// lineAt returns the Line record covering addr, using "largest address <=
// addr".
func (f *Function) lineAt(addr uint64) (Line, bool) {
	idx := -1
	for i := range f.Lines {
		if f.Lines[i].Address <= addr {
			if idx == -1 || f.Lines[i].Address > f.Lines[idx].Address {
				idx = i
			}
		}
	}
	if idx == -1 || !f.Lines[idx].contains(addr) {
		return Line{}, false
	}
	return f.Lines[idx], true
}

// PublicSymbol is one PUBLIC record, used as a fallback when no Function
// covers an address.
type PublicSymbol struct {
	Address        uint64
	StackParamSize int32
	Name           string
	Multiple       bool
}

// WindowsFrameType distinguishes the three STACK WIN record shapes.
// WindowsFrameUnknown is the type of a STACK WIN record that is neither
// FPO (type 0) nor carries a program string. An address that no record
// covers is reported separately: ModuleIndex.FindWindowsFrameInfo returns
// a nil *WindowsFrameInfo for it.
type WindowsFrameType int

const (
	WindowsFrameUnknown WindowsFrameType = iota
	WindowsFrameData
	WindowsFrameFPO
)

// WindowsFrameInfo is one STACK WIN record.
type WindowsFrameInfo struct {
	AddrRange
	Type                 WindowsFrameType
	PrologSize           uint32
	EpilogSize           uint32
	ParameterSize        uint32
	SavedRegisterSize    uint32
	LocalSize            uint32
	MaxStackSize         uint32
	AllocatesBasePointer bool
	ProgramString        string
}

// CFIDelta is one non-INIT STACK CFI record, applied to an initial rule map
// when the queried pc is at or past AtAddress.
type CFIDelta struct {
	AtAddress uint64
	Overrides map[string]string
}

// CFIRuleSet is the STACK CFI INIT record and every STACK CFI delta nested
// inside its range.
type CFIRuleSet struct {
	AddrRange
	Initial map[string]string
	Deltas  []CFIDelta // kept in ascending AtAddress order.
}

// effectiveRules returns the rule map in effect at pc: the initial map with
// every delta whose AtAddress <= pc applied in ascending order, later
// deltas replacing (never merging into) a prior entry for the same
// register.
func (rs *CFIRuleSet) effectiveRules(pc uint64) map[string]string {
	rules := make(map[string]string, len(rs.Initial))
	for reg, expr := range rs.Initial {
		rules[reg] = expr
	}
	for _, d := range rs.Deltas {
		if d.AtAddress > pc {
			break
		}
		for reg, expr := range d.Overrides {
			rules[reg] = expr
		}
	}
	return rules
}
