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
	"bufio"
	"io"
	"sort"

	"github.com/apex/log"
)

// ModuleIndex is the per-module in-memory index built by streaming a
// symbol file's records. Once BuildModuleIndex has returned, a
// ModuleIndex is immutable and safe for concurrent readers.
type ModuleIndex struct {
	moduleName string
	osName     string
	cpu        string
	debugID    string

	files   map[int32]string
	origins map[int32]InlineOrigin

	funcs   []*Function // sorted by Address, ties in insertion order.
	publics []PublicSymbol
	winInfo []WindowsFrameInfo
	cfiSets []*CFIRuleSet

	// Corrupt is set when any line of the source file was dropped as a
	// parse error, or any semantic inconsistency (dangling reference,
	// out-of-range delta, bad nest level) was found while building the
	// index. A duplicate FILE or INLINE_ORIGIN id only logs a warning.
	Corrupt bool
}

// ModuleName, OSName, CPU and DebugID report the module's MODULE record, if
// one was present.
func (m *ModuleIndex) ModuleName() string { return m.moduleName }
func (m *ModuleIndex) OSName() string     { return m.osName }
func (m *ModuleIndex) CPU() string        { return m.cpu }
func (m *ModuleIndex) DebugID() string    { return m.debugID }

// moduleIndexBuilder accumulates records into a ModuleIndex.
type moduleIndexBuilder struct {
	logger log.Interface

	idx *ModuleIndex

	currentFunc  *Function
	levelStack   []*InlineRecord
	lastCFI      *CFIRuleSet
}

// newModuleIndexBuilder creates a builder that logs warnings through
// logger (defaulting to the package-level apex/log logger, the way
// blacktop-ipsw threads an apex/log.Interface through library code instead
// of importing the global directly).
func newModuleIndexBuilder(logger log.Interface) *moduleIndexBuilder {
	if logger == nil {
		logger = log.Log
	}
	return &moduleIndexBuilder{
		logger: logger,
		idx: &ModuleIndex{
			files:   make(map[int32]string),
			origins: make(map[int32]InlineOrigin),
		},
	}
}

// add ingests one record, or nil (a blank line / comment) which is a no-op.
func (b *moduleIndexBuilder) add(rec Record) {
	switch r := rec.(type) {
	case ModuleRecord:
		b.idx.osName = r.OS
		b.idx.cpu = r.CPU
		b.idx.debugID = r.ID
		b.idx.moduleName = r.Name
		b.currentFunc = nil
		b.levelStack = nil

	case FileRecord:
		if _, dup := b.idx.files[r.FileID]; dup {
			b.logger.Warnf("duplicate FILE id %d, replacing", r.FileID)
		}
		b.idx.files[r.FileID] = r.Name

	case InlineOriginRecord:
		if _, dup := b.idx.origins[r.OriginID]; dup {
			b.logger.Warnf("duplicate INLINE_ORIGIN id %d, replacing", r.OriginID)
		}
		b.idx.origins[r.OriginID] = InlineOrigin{OriginID: r.OriginID, FileID: r.FileID, Name: r.Name}

	case FuncRecord:
		fn := &Function{
			AddrRange:      r.AddrRange,
			StackParamSize: r.StackParamSize,
			Multiple:       r.Multiple,
			Name:           r.Name,
		}
		b.idx.funcs = append(b.idx.funcs, fn)
		b.currentFunc = fn
		b.levelStack = nil

	case BareLineRecord:
		if b.currentFunc == nil {
			b.idx.Corrupt = true
			b.logger.Warn("bare line record with no preceding FUNC, dropping")
			return
		}
		b.currentFunc.Lines = append(b.currentFunc.Lines, Line{
			AddrRange:  r.AddrRange,
			LineNumber: r.LineNumber,
			FileID:     r.FileID,
		})

	case InlineLineRecord:
		b.addInline(r)

	case PublicRecord:
		b.idx.publics = append(b.idx.publics, PublicSymbol{
			Address:        r.Address,
			StackParamSize: r.StackParamSize,
			Multiple:       r.Multiple,
			Name:           r.Name,
		})
		b.currentFunc = nil
		b.levelStack = nil

	case StackWinRecord:
		b.addWindowsFrameInfo(r.WindowsFrameInfo)

	case StackCFIInitRecord:
		rs := &CFIRuleSet{AddrRange: r.AddrRange, Initial: r.Rules}
		b.idx.cfiSets = append(b.idx.cfiSets, rs)
		b.lastCFI = rs

	case StackCFIDeltaRecord:
		if b.lastCFI == nil || !b.lastCFI.contains(r.AtAddress) {
			b.idx.Corrupt = true
			b.logger.Warnf("STACK CFI delta at 0x%x is outside the active INIT range, dropping", r.AtAddress)
			return
		}
		b.lastCFI.Deltas = append(b.lastCFI.Deltas, CFIDelta{AtAddress: r.AtAddress, Overrides: r.Overrides})
	}
}

// addInline pushes rec onto the nest-level stack, reparenting it under the
// top-of-stack record at level-1.
func (b *moduleIndexBuilder) addInline(r InlineLineRecord) {
	if b.currentFunc == nil {
		b.idx.Corrupt = true
		b.logger.Warn("INLINE record with no preceding FUNC, dropping")
		return
	}
	origin, ok := b.idx.origins[r.OriginID]
	if !ok {
		b.idx.Corrupt = true
		b.logger.Warnf("INLINE references unknown origin id %d, dropping", r.OriginID)
		return
	}
	_ = origin

	rec := &InlineRecord{
		NestLevel:      r.NestLevel,
		CallSiteLine:   r.CallSiteLine,
		CallSiteFileID: r.CallSiteFileID,
		OriginID:       r.OriginID,
		Ranges:         r.Ranges,
	}

	level := int(r.NestLevel)
	if level < 0 {
		b.idx.Corrupt = true
		b.logger.Warnf("INLINE has negative nest level %d, dropping", r.NestLevel)
		return
	}
	if level > len(b.levelStack) {
		b.idx.Corrupt = true
		b.logger.Warnf("INLINE nest level %d skips a level, dropping", r.NestLevel)
		return
	}

	if level == 0 {
		b.currentFunc.Inlines = append(b.currentFunc.Inlines, rec)
	} else {
		parent := b.levelStack[level-1]
		parent.Children = append(parent.Children, rec)
	}

	b.levelStack = append(b.levelStack[:level], rec)
}

// addWindowsFrameInfo inserts info, replacing any existing entry that
// strictly overlaps it: last one wins.
func (b *moduleIndexBuilder) addWindowsFrameInfo(info WindowsFrameInfo) {
	for i, existing := range b.idx.winInfo {
		if existing.Address < info.Address+info.Size && info.Address < existing.Address+existing.Size {
			b.idx.winInfo[i] = info
			return
		}
	}
	b.idx.winInfo = append(b.idx.winInfo, info)
}

// build finalizes the ModuleIndex, sorting all address-indexed slices.
func (b *moduleIndexBuilder) build() *ModuleIndex {
	sort.SliceStable(b.idx.funcs, func(i, j int) bool { return b.idx.funcs[i].Address < b.idx.funcs[j].Address })
	sort.SliceStable(b.idx.publics, func(i, j int) bool { return b.idx.publics[i].Address < b.idx.publics[j].Address })
	sort.SliceStable(b.idx.winInfo, func(i, j int) bool { return b.idx.winInfo[i].Address < b.idx.winInfo[j].Address })
	sort.SliceStable(b.idx.cfiSets, func(i, j int) bool { return b.idx.cfiSets[i].Address < b.idx.cfiSets[j].Address })
	for _, rs := range b.idx.cfiSets {
		sort.SliceStable(rs.Deltas, func(i, j int) bool { return rs.Deltas[i].AtAddress < rs.Deltas[j].AtAddress })
	}
	return b.idx
}

// BuildModuleIndex parses every line of data (a full symbol file) and
// returns the resulting ModuleIndex. Parse errors never abort the build;
// they mark the index Corrupt and drop the offending line. logger receives
// one warning per dropped or semantically invalid line; pass nil to use
// the package-level apex/log logger.
func BuildModuleIndex(fileName string, data io.Reader, logger log.Interface) *ModuleIndex {
	if logger == nil {
		logger = log.Log
	}
	parser := NewSymbolFileParser(fileName)
	builder := newModuleIndexBuilder(logger)

	scanner := bufio.NewScanner(data)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		rec, perr := parser.ParseLine(scanner.Text())
		if perr != nil {
			builder.idx.Corrupt = true
			logger.WithField("kind", string(perr.Kind)).Warn(perr.Error())
			continue
		}
		if rec != nil {
			builder.add(rec)
		}
	}
	return builder.build()
}

// --- address lookup ---

// lookupFunc returns the Function with the largest Address <= addr that
// also covers addr, i.e. addr < Address+Size.
func (m *ModuleIndex) lookupFunc(addr uint64) (*Function, bool) {
	i := sort.Search(len(m.funcs), func(i int) bool { return m.funcs[i].Address > addr })
	if i == 0 {
		return nil, false
	}
	fn := m.funcs[i-1]
	if !fn.contains(addr) {
		return nil, false
	}
	return fn, true
}

// lookupPublic returns the PublicSymbol with the largest Address <= addr.
func (m *ModuleIndex) lookupPublic(addr uint64) (*PublicSymbol, bool) {
	i := sort.Search(len(m.publics), func(i int) bool { return m.publics[i].Address > addr })
	if i == 0 {
		return nil, false
	}
	return &m.publics[i-1], true
}

// FindWindowsFrameInfo returns the STACK WIN record covering rva, or nil.
func (m *ModuleIndex) FindWindowsFrameInfo(rva uint64) *WindowsFrameInfo {
	i := sort.Search(len(m.winInfo), func(i int) bool { return m.winInfo[i].Address > rva })
	if i == 0 {
		return nil
	}
	info := m.winInfo[i-1]
	if !info.contains(rva) {
		return nil
	}
	return &info
}

// FindCFI returns the CFIRuleSet covering rva, or nil.
func (m *ModuleIndex) FindCFI(rva uint64) *CFIRuleSet {
	i := sort.Search(len(m.cfiSets), func(i int) bool { return m.cfiSets[i].Address > rva })
	if i == 0 {
		return nil
	}
	rs := m.cfiSets[i-1]
	if !rs.contains(rva) {
		return nil
	}
	return rs
}

// Fill resolves rva against this module's functions/lines/inlines and
// writes the results into frame. moduleBase is added back onto every
// absolute address field (FunctionBase, SourceLineBase) Fill emits, since
// the lookup tables themselves are indexed by module-relative address. If
// inlines is non-nil, it is appended with one StackFrame per visited
// inline record, ordered innermost to outermost.
func (m *ModuleIndex) Fill(rva uint64, moduleBase uint64, frame *StackFrame, inlines *[]*StackFrame) {
	frame.reset()

	fn, ok := m.lookupFunc(rva)
	if !ok {
		pub, ok := m.lookupPublic(rva)
		if ok {
			frame.FunctionName = pub.Name
			frame.IsMultiple = pub.Multiple
		}
		return
	}

	frame.FunctionName = fn.Name
	frame.FunctionBase = moduleBase + fn.Address
	frame.IsMultiple = fn.Multiple

	if line, ok := fn.lineAt(rva); ok {
		frame.SourceFileName = m.files[line.FileID]
		frame.SourceLine = int(line.LineNumber)
		frame.SourceLineBase = moduleBase + line.Address
	}

	if inlines == nil || len(fn.Inlines) == 0 {
		return
	}
	m.fillInlines(rva, moduleBase, fn, frame, inlines)
}

// fillInlines descends the inline tree rooted at fn.Inlines, building the
// innermost-to-outermost chain and rewriting frame/each emitted frame's
// file/line by the "one level out" rule: each inline frame's file/line
// describe where it calls the next inline one level further in, except the
// innermost frame (the physical source line); the outer non-inline frame
// gets the call site of the outermost inline.
func (m *ModuleIndex) fillInlines(rva uint64, moduleBase uint64, fn *Function, frame *StackFrame, out *[]*StackFrame) {
	var chain []*InlineRecord
	var root *InlineRecord
	for _, r := range fn.Inlines {
		for _, rng := range r.Ranges {
			if rng.contains(rva) {
				root = r
				break
			}
		}
		if root != nil {
			break
		}
	}
	if root == nil {
		return
	}
	chain = append(chain, root)
	for {
		child := chain[len(chain)-1].coveringChild(rva)
		if child == nil {
			break
		}
		chain = append(chain, child)
	}

	// chain[0] is the outermost inline (direct child of fn), chain[len-1]
	// is the innermost. The outer non-inline frame's file/line describe
	// the call site of chain[0] (the outermost inline).
	outermost := chain[0]
	frame.SourceFileName = m.resolveCallSiteFile(outermost, fn)
	frame.SourceLine = int(outermost.CallSiteLine)
	frame.SourceLineBase = moduleBase + rva

	// Emit innermost-first. Frame i (0-based from the innermost) gets the
	// physical line if it is the innermost record, otherwise it gets the
	// call site of its own child (one level further in), i.e. the file/
	// line recorded on chain[i+1].
	for i := len(chain) - 1; i >= 0; i-- {
		rec := chain[i]
		origin := m.origins[rec.OriginID]

		inlineFrame := &StackFrame{
			Module:       frame.Module,
			Instruction:  frame.Instruction,
			FunctionName: origin.Name,
			FunctionBase: moduleBase + innermostRangeBase(rec, rva),
			Trust:        TrustInline,
		}

		if i == len(chain)-1 {
			// Innermost: physical source line at rva.
			if line, ok := fn.lineAt(rva); ok {
				inlineFrame.SourceFileName = m.files[line.FileID]
				inlineFrame.SourceLine = int(line.LineNumber)
				inlineFrame.SourceLineBase = moduleBase + line.Address
			}
		} else {
			child := chain[i+1]
			inlineFrame.SourceFileName = m.resolveCallSiteFile(child, fn)
			inlineFrame.SourceLine = int(child.CallSiteLine)
			inlineFrame.SourceLineBase = moduleBase + rva
		}

		*out = append(*out, inlineFrame)
	}
}

// resolveCallSiteFile returns the file name of the line at which rec's
// call was made. Under the extended schema the InlineRecord itself carries
// CallSiteFileID. Under the legacy schema no per-call-site file id exists
// at all (legacy INLINE_ORIGIN's file id marks only whether the origin is
// artificial); the call site file then defaults to the enclosing physical
// function's own file (see DESIGN.md).
func (m *ModuleIndex) resolveCallSiteFile(rec *InlineRecord, fn *Function) string {
	if rec.CallSiteFileID != NoFileID {
		return m.files[rec.CallSiteFileID]
	}
	if line, ok := fn.lineAt(fn.Address); ok {
		return m.files[line.FileID]
	}
	return ""
}

// innermostRangeBase returns the Address of the specific range within rec
// that contains rva, which is the inline frame's function base.
func innermostRangeBase(rec *InlineRecord, rva uint64) uint64 {
	for _, rng := range rec.Ranges {
		if rng.contains(rva) {
			return rng.Address
		}
	}
	return rec.Ranges[0].Address
}
