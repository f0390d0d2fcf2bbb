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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineSpacesInStrings(t *testing.T) {
	p := NewSymbolFileParser("test.sym")

	rec, perr := p.ParseLine("MODULE mac x86 73C5EC60C2EA7343C2495AB71C16B32B0 A Module With Spaces")
	require.Nil(t, perr)
	mod, ok := rec.(ModuleRecord)
	require.True(t, ok)
	assert.Equal(t, "A Module With Spaces", mod.Name)

	rec, perr = p.ParseLine("FILE 0 /Volumes/Source Path/project/main.cc")
	require.Nil(t, perr)
	file, ok := rec.(FileRecord)
	require.True(t, ok)
	assert.Equal(t, "/Volumes/Source Path/project/main.cc", file.Name)

	rec, perr = p.ParseLine("FUNC 1f4a9 20 0 Allays::IBF(int, int*) const")
	require.Nil(t, perr)
	fn, ok := rec.(FuncRecord)
	require.True(t, ok)
	assert.Equal(t, "Allays::IBF(int, int*) const", fn.Name)

	rec, perr = p.ParseLine("PUBLIC abc123 0 CreateDelegate(int, void**)")
	require.Nil(t, perr)
	pub, ok := rec.(PublicRecord)
	require.True(t, ok)
	assert.Equal(t, "CreateDelegate(int, void**)", pub.Name)
}

func TestParseLineTrailingComment(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("FUNC 100 10 0 Widget::Paint() // inlined from elsewhere")
	require.Nil(t, perr)
	fn := rec.(FuncRecord)
	assert.Equal(t, "Widget::Paint()", fn.Name)
}

func TestParseFuncMultipleFlag(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("FUNC m 100 10 0 Ambiguous")
	require.Nil(t, perr)
	fn := rec.(FuncRecord)
	assert.True(t, fn.Multiple)
	assert.Equal(t, uint64(0x100), fn.Address)
}

func TestParseBareLineNoFunc(t *testing.T) {
	// A bare LINE record is syntactically valid on its own; ModuleIndex (not
	// the parser) is responsible for rejecting it when no FUNC precedes it.
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("1000 10 5 0")
	require.Nil(t, perr)
	line := rec.(BareLineRecord)
	assert.Equal(t, int32(5), line.LineNumber)
}

func TestParseLineUnknownRecord(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	_, perr := p.ParseLine("BOGUS 1 2 3")
	require.NotNil(t, perr)
	assert.Equal(t, KindUnknownRecord, perr.Kind)
}

func TestParseLineBadInteger(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	_, perr := p.ParseLine("FUNC zzz 10 0 Bad")
	require.NotNil(t, perr)
	assert.Equal(t, KindBadInteger, perr.Kind)
}

func TestParseInlineLegacySchema(t *testing.T) {
	// nest call-line origin-id (address size)+ -- no call_site_file_id.
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("INLINE 0 1 2 3 4")
	require.Nil(t, perr)
	inl := rec.(InlineLineRecord)
	assert.Equal(t, int32(0), inl.NestLevel)
	assert.Equal(t, int32(1), inl.CallSiteLine)
	assert.Equal(t, NoFileID, inl.CallSiteFileID)
	assert.Equal(t, int32(2), inl.OriginID)
	require.Len(t, inl.Ranges, 1)
	assert.Equal(t, AddrRange{Address: 0x3, Size: 0x4}, inl.Ranges[0])
}

func TestParseInlineLegacyMultiRange(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("INLINE 0 1 2 a b 1a 1b")
	require.Nil(t, perr)
	inl := rec.(InlineLineRecord)
	assert.Equal(t, NoFileID, inl.CallSiteFileID)
	require.Len(t, inl.Ranges, 2)
	assert.Equal(t, AddrRange{Address: 0xa, Size: 0xb}, inl.Ranges[0])
	assert.Equal(t, AddrRange{Address: 0x1a, Size: 0x1b}, inl.Ranges[1])
}

func TestParseInlineExtendedSchema(t *testing.T) {
	// nest call-line call-site-file-id origin-id (address size)+.
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("INLINE 0 1 2 3 a b 1a 1b")
	require.Nil(t, perr)
	inl := rec.(InlineLineRecord)
	assert.Equal(t, int32(2), inl.CallSiteFileID)
	assert.Equal(t, int32(3), inl.OriginID)
	require.Len(t, inl.Ranges, 2)
}

func TestParseInlineOriginLegacyCarriesFileID(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("INLINE_ORIGIN 0 3 SomeFunction()")
	require.Nil(t, perr)
	orig := rec.(InlineOriginRecord)
	assert.Equal(t, int32(3), orig.FileID)
	assert.Equal(t, "SomeFunction()", orig.Name)
}

func TestParseInlineOriginExtendedOmitsFileID(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("INLINE_ORIGIN 0 SomeFunction()")
	require.Nil(t, perr)
	orig := rec.(InlineOriginRecord)
	assert.Equal(t, NoFileID, orig.FileID)
	assert.Equal(t, "SomeFunction()", orig.Name)
}

func TestParseStackCFIInitAndDelta(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("STACK CFI INIT 3d40 b0 .cfa: $esp 4 + .ra: .cfa 4 - ^")
	require.Nil(t, perr)
	init := rec.(StackCFIInitRecord)
	assert.Equal(t, uint64(0x3d40), init.Address)
	assert.Equal(t, uint64(0xb0), init.Size)
	assert.Equal(t, "$esp 4 +", init.Rules[".cfa"])
	assert.Equal(t, ".cfa 4 - ^", init.Rules[".ra"])

	rec, perr = p.ParseLine("STACK CFI 3d50 $ebp: .cfa 8 - ^")
	require.Nil(t, perr)
	delta := rec.(StackCFIDeltaRecord)
	assert.Equal(t, uint64(0x3d50), delta.AtAddress)
	assert.Equal(t, ".cfa 8 - ^", delta.Overrides["$ebp"])
}

func TestParseStackWinFrameData(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("STACK WIN 4 1000 50 0 0 4 8 0 0 1 $T0 $ebp = $eip $T0 4 + ^ =")
	require.Nil(t, perr)
	win := rec.(StackWinRecord)
	assert.Equal(t, WindowsFrameData, win.Type)
	assert.Equal(t, uint32(4), win.ParameterSize)
	assert.NotEmpty(t, win.ProgramString)
}

func TestParseStackWinFPO(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("STACK WIN 0 1000 50 0 0 4 8 0 0 0 0")
	require.Nil(t, perr)
	win := rec.(StackWinRecord)
	assert.Equal(t, WindowsFrameFPO, win.Type)
	assert.False(t, win.AllocatesBasePointer)
}

func TestParseStackWinFPOAllocatesBasePointer(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("STACK WIN 0 1000 50 0 0 4 8 0 0 0 1")
	require.Nil(t, perr)
	win := rec.(StackWinRecord)
	assert.Equal(t, WindowsFrameFPO, win.Type)
	assert.True(t, win.AllocatesBasePointer)
}

func TestParseFileIDSentinel(t *testing.T) {
	p := NewSymbolFileParser("test.sym")
	rec, perr := p.ParseLine("1000 10 5 -1")
	require.Nil(t, perr)
	line := rec.(BareLineRecord)
	assert.Equal(t, NoFileID, line.FileID)
}
