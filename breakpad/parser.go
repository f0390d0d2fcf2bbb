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
	"fmt"
	"strconv"
	"strings"
)

// ParseErrorKind classifies why a line of a symbol file was rejected.
type ParseErrorKind string

const (
	KindUnknownRecord  ParseErrorKind = "unknown-record"
	KindMissingField   ParseErrorKind = "missing-field"
	KindBadInteger     ParseErrorKind = "bad-integer"
	KindDanglingInline ParseErrorKind = "dangling-inline"
	KindOverflow       ParseErrorKind = "overflow"
)

// ParseError reports a single dropped line. The parser never
// panics on malformed content; a *ParseError is always paired with a nil
// Record.
type ParseError struct {
	File    string
	Line    int
	Kind    ParseErrorKind
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Kind, e.Message)
}

// Record is any one parsed line of a symbol file.
type Record interface {
	isRecord()
}

type ModuleRecord struct {
	OS, CPU, ID, Name string
}

type FileRecord struct {
	FileID int32
	Name   string
}

type InlineOriginRecord struct {
	OriginID int32
	FileID   int32 // NoFileID if the line omitted it (extended schema).
	Name     string
}

type FuncRecord struct {
	AddrRange
	StackParamSize int32
	Multiple       bool
	Name           string
}

// InlineLineRecord is one parsed INLINE line, not yet reparented into a
// tree (ModuleIndex does that).
type InlineLineRecord struct {
	NestLevel      int32
	CallSiteLine   int32
	CallSiteFileID int32 // NoFileID if the line omitted it (legacy schema).
	OriginID       int32
	Ranges         []AddrRange
}

// BareLineRecord is a physical LINE record; it belongs to the most
// recently parsed FuncRecord.
type BareLineRecord struct {
	AddrRange
	LineNumber int32
	FileID     int32
}

type PublicRecord struct {
	Address        uint64
	StackParamSize int32
	Multiple       bool
	Name           string
}

type StackWinRecord struct {
	WindowsFrameInfo
}

type StackCFIInitRecord struct {
	AddrRange
	Rules map[string]string
}

type StackCFIDeltaRecord struct {
	AtAddress uint64
	Overrides map[string]string
}

func (ModuleRecord) isRecord()         {}
func (FileRecord) isRecord()           {}
func (InlineOriginRecord) isRecord()   {}
func (FuncRecord) isRecord()           {}
func (InlineLineRecord) isRecord()     {}
func (BareLineRecord) isRecord()       {}
func (PublicRecord) isRecord()         {}
func (StackWinRecord) isRecord()       {}
func (StackCFIInitRecord) isRecord()   {}
func (StackCFIDeltaRecord) isRecord()  {}

// SymbolFileParser tokenizes and validates one symbol-file line at a time
//. It is stateless across lines except for the line counter
// used in error messages; the "most recent FUNC" tracking that bare LINE
// and INLINE records depend on lives in ModuleIndex's builder, not here.
type SymbolFileParser struct {
	fileName string
	lineNo   int
}

// NewSymbolFileParser creates a parser that will report fileName in any
// ParseError it produces.
func NewSymbolFileParser(fileName string) *SymbolFileParser {
	return &SymbolFileParser{fileName: fileName}
}

// ParseLine parses one line of symbol-file text, in order. Blank lines
// return (nil, nil). The parser never returns a Go error for malformed
// content: invalid lines produce (nil, *ParseError) and parsing of
// subsequent lines is unaffected.
func (p *SymbolFileParser) ParseLine(line string) (Record, *ParseError) {
	p.lineNo++

	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	line = stripTrailingComment(line)
	if line == "" {
		return nil, nil
	}

	keyword, rest := splitFirstToken(line)
	switch keyword {
	case "MODULE":
		return p.parseModule(rest)
	case "FILE":
		return p.parseFile(rest)
	case "INLINE_ORIGIN":
		return p.parseInlineOrigin(rest)
	case "FUNC":
		return p.parseFunc(rest)
	case "INLINE":
		return p.parseInline(rest)
	case "PUBLIC":
		return p.parsePublic(rest)
	case "STACK":
		return p.parseStack(rest)
	default:
		if looksNumeric(keyword) {
			return p.parseBareLine(line)
		}
		return nil, p.err(KindUnknownRecord, "unrecognized record keyword %q", keyword)
	}
}

// --- record parsers ---

func (p *SymbolFileParser) parseModule(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	if len(fields) < 4 {
		return nil, p.err(KindMissingField, "MODULE requires os, cpu, id, and name")
	}
	name := strings.Join(fields[3:], " ")
	return ModuleRecord{OS: fields[0], CPU: fields[1], ID: fields[2], Name: name}, nil
}

func (p *SymbolFileParser) parseFile(rest string) (Record, *ParseError) {
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) < 2 {
		return nil, p.err(KindMissingField, "FILE requires an id and a name")
	}
	id, err := p.parseFileID(fields[0])
	if err != nil {
		return nil, err
	}
	return FileRecord{FileID: id, Name: fields[1]}, nil
}

func (p *SymbolFileParser) parseInlineOrigin(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil, p.err(KindMissingField, "INLINE_ORIGIN requires an id and a name")
	}
	originID, err := p.parseHexInt32(fields[0], "origin id")
	if err != nil {
		return nil, err
	}

	// The second token is the optional file id if (and only if) it parses
	// as a number; otherwise it's the first word of the name and this is
	// the extended schema. Detection is content-based, not flagged.
	fileID := NoFileID
	nameFields := fields[1:]
	if v, convErr := strconv.ParseInt(fields[1], 16, 64); convErr == nil {
		if v < NoFileIDMin || v > 0x7fffffff {
			return nil, p.err(KindOverflow, "INLINE_ORIGIN file id out of range")
		}
		fileID = int32(v)
		nameFields = fields[2:]
	}
	if len(nameFields) == 0 {
		return nil, p.err(KindMissingField, "INLINE_ORIGIN requires a name")
	}
	return InlineOriginRecord{OriginID: originID, FileID: fileID, Name: strings.Join(nameFields, " ")}, nil
}

// NoFileIDMin is the smallest value the file-id sentinel may take; only -1
// is accepted.
const NoFileIDMin = -1

func (p *SymbolFileParser) parseFunc(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	multiple := false
	if len(fields) > 0 && fields[0] == "m" {
		multiple = true
		fields = fields[1:]
	}
	if len(fields) < 4 {
		return nil, p.err(KindMissingField, "FUNC requires address, size, param size, and name")
	}
	addr, err := p.parseHexUint64(fields[0], "function address")
	if err != nil {
		return nil, err
	}
	size, err := p.parseHexUint64(fields[1], "function size")
	if err != nil {
		return nil, err
	}
	paramSize, err := p.parseStackParamSize(fields[2])
	if err != nil {
		return nil, err
	}
	name := strings.Join(fields[3:], " ")
	return FuncRecord{
		AddrRange:      AddrRange{Address: addr, Size: size},
		StackParamSize: paramSize,
		Multiple:       multiple,
		Name:           name,
	}, nil
}

// parseInline distinguishes the legacy (no call_site_file_id) and extended
// (call_site_file_id present) INLINE schemas by counting the numeric
// tokens that precede the first "(addr size)" pair: not by a flag, by
// position.
func (p *SymbolFileParser) parseInline(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	if len(fields) < 5 {
		return nil, p.err(KindMissingField, "INLINE requires nest level, call site line, origin id, and at least one range")
	}

	nest, err := p.parseHexInt32(fields[0], "nest level")
	if err != nil {
		return nil, err
	}
	callLine, err := p.parseDecInt32(fields[1], "call site line")
	if err != nil {
		return nil, err
	}

	// The schema is legacy if fields[2] is the origin id, or extended if
	// fields[2] is a call_site_file_id and fields[3] is the origin id.
	// Every token after the leading fields is half of an (addr size) pair,
	// so the two shapes are told apart by whether an even number of tokens
	// remains after consuming 3 (legacy) or 4 (extended) leading fields.
	remAfter3 := len(fields) - 3
	remAfter4 := len(fields) - 4

	var callSiteFileID, originID int32
	var rangeTokens []string
	switch {
	case remAfter4 >= 2 && remAfter4%2 == 0 && !(remAfter3 >= 2 && remAfter3%2 == 0):
		// Extended schema: nest call-line call-site-file-id origin-id ranges...
		callSiteFileID, err = p.parseFileID(fields[2])
		if err != nil {
			return nil, err
		}
		originID, err = p.parseHexInt32(fields[3], "origin id")
		if err != nil {
			return nil, err
		}
		rangeTokens = fields[4:]
	case remAfter3 >= 2 && remAfter3%2 == 0:
		// Legacy schema: nest call-line origin-id ranges...
		callSiteFileID = NoFileID
		originID, err = p.parseHexInt32(fields[2], "origin id")
		if err != nil {
			return nil, err
		}
		rangeTokens = fields[3:]
	default:
		return nil, p.err(KindMissingField, "INLINE has an invalid number of range tokens")
	}

	ranges := make([]AddrRange, 0, len(rangeTokens)/2)
	for i := 0; i < len(rangeTokens); i += 2 {
		addr, err := p.parseHexUint64(rangeTokens[i], "inline range address")
		if err != nil {
			return nil, err
		}
		size, err := p.parseHexUint64(rangeTokens[i+1], "inline range size")
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, AddrRange{Address: addr, Size: size})
	}
	if len(ranges) == 0 {
		return nil, p.err(KindMissingField, "INLINE requires at least one range")
	}

	return InlineLineRecord{
		NestLevel:      nest,
		CallSiteLine:   callLine,
		CallSiteFileID: callSiteFileID,
		OriginID:       originID,
		Ranges:         ranges,
	}, nil
}

func (p *SymbolFileParser) parseBareLine(line string) (Record, *ParseError) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, p.err(KindMissingField, "a bare line record requires address, size, line number, and file id")
	}
	addr, err := p.parseHexUint64(fields[0], "line address")
	if err != nil {
		return nil, err
	}
	size, err := p.parseHexUint64(fields[1], "line size")
	if err != nil {
		return nil, err
	}
	lineNo, err := p.parseDecInt32(fields[2], "line number")
	if err != nil {
		return nil, err
	}
	fileID, err := p.parseFileID(fields[3])
	if err != nil {
		return nil, err
	}
	return BareLineRecord{
		AddrRange:  AddrRange{Address: addr, Size: size},
		LineNumber: lineNo,
		FileID:     fileID,
	}, nil
}

func (p *SymbolFileParser) parsePublic(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	multiple := false
	if len(fields) > 0 && fields[0] == "m" {
		multiple = true
		fields = fields[1:]
	}
	if len(fields) < 3 {
		return nil, p.err(KindMissingField, "PUBLIC requires address, param size, and name")
	}
	addr, err := p.parseHexUint64(fields[0], "public address")
	if err != nil {
		return nil, err
	}
	paramSize, err := p.parseStackParamSize(fields[1])
	if err != nil {
		return nil, err
	}
	name := strings.Join(fields[2:], " ")
	return PublicRecord{Address: addr, StackParamSize: paramSize, Multiple: multiple, Name: name}, nil
}

func (p *SymbolFileParser) parseStack(rest string) (Record, *ParseError) {
	kind, rest := splitFirstToken(rest)
	switch kind {
	case "WIN":
		return p.parseStackWin(rest)
	case "CFI":
		return p.parseStackCFI(rest)
	default:
		return nil, p.err(KindUnknownRecord, "unrecognized STACK record kind %q", kind)
	}
}

func (p *SymbolFileParser) parseStackWin(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	if len(fields) < 11 {
		return nil, p.err(KindMissingField, "STACK WIN requires 11 leading fields")
	}
	typ, err := p.parseHexUint64(fields[0], "STACK WIN type")
	if err != nil {
		return nil, err
	}
	rva, err := p.parseHexUint64(fields[1], "STACK WIN rva")
	if err != nil {
		return nil, err
	}
	codeSize, err := p.parseHexUint64(fields[2], "STACK WIN code size")
	if err != nil {
		return nil, err
	}
	nums := make([]uint32, 6)
	names := []string{"prolog", "epilog", "params", "saved", "locals", "max stack"}
	for i := 0; i < 6; i++ {
		v, err := p.parseHexUint64(fields[3+i], "STACK WIN "+names[i])
		if err != nil {
			return nil, err
		}
		nums[i] = uint32(v)
	}
	hasProgram := fields[9] == "1"
	rest2 := strings.Join(fields[10:], " ")

	info := WindowsFrameInfo{
		AddrRange:         AddrRange{Address: rva, Size: codeSize},
		PrologSize:        nums[0],
		EpilogSize:        nums[1],
		ParameterSize:     nums[2],
		SavedRegisterSize: nums[3],
		LocalSize:         nums[4],
		MaxStackSize:      nums[5],
	}
	// The 11th field means different things depending on hasProgram: the
	// postfix program string itself, or (when absent) whether the frame
	// allocates its own base pointer. Both FPO and non-FPO records carry
	// this field, so it's read once regardless of typ.
	if hasProgram {
		info.ProgramString = rest2
	} else {
		info.AllocatesBasePointer = rest2 == "1"
	}
	switch {
	case typ == 0: // FPO-style
		info.Type = WindowsFrameFPO
	case hasProgram:
		info.Type = WindowsFrameData
	default:
		info.Type = WindowsFrameUnknown
	}
	return StackWinRecord{WindowsFrameInfo: info}, nil
}

func (p *SymbolFileParser) parseStackCFI(rest string) (Record, *ParseError) {
	fields := strings.Fields(rest)
	isInit := false
	if len(fields) > 0 && fields[0] == "INIT" {
		isInit = true
		fields = fields[1:]
	}
	if len(fields) < 1 {
		return nil, p.err(KindMissingField, "STACK CFI requires an address")
	}
	addr, err := p.parseHexUint64(fields[0], "STACK CFI address")
	if err != nil {
		return nil, err
	}

	if isInit {
		if len(fields) < 2 {
			return nil, p.err(KindMissingField, "STACK CFI INIT requires a size")
		}
		size, err := p.parseHexUint64(fields[1], "STACK CFI INIT size")
		if err != nil {
			return nil, err
		}
		rules, perr := p.parseRulePairs(fields[2:])
		if perr != nil {
			return nil, perr
		}
		return StackCFIInitRecord{AddrRange: AddrRange{Address: addr, Size: size}, Rules: rules}, nil
	}

	overrides, perr := p.parseRulePairs(fields[1:])
	if perr != nil {
		return nil, perr
	}
	return StackCFIDeltaRecord{AtAddress: addr, Overrides: overrides}, nil
}

// parseRulePairs parses "REG: expr REG: expr ..." greedily: each
// expression runs up to (but not including) the next "REG:" token.
func (p *SymbolFileParser) parseRulePairs(tokens []string) (map[string]string, *ParseError) {
	rules := make(map[string]string)
	i := 0
	for i < len(tokens) {
		reg, ok := splitRegisterPrefix(tokens[i])
		if !ok {
			return nil, p.err(KindMissingField, "expected REG: prefix, got %q", tokens[i])
		}
		i++
		start := i
		for i < len(tokens) {
			if _, ok := splitRegisterPrefix(tokens[i]); ok {
				break
			}
			i++
		}
		if start == i {
			return nil, p.err(KindMissingField, "register %q has no expression", reg)
		}
		rules[reg] = strings.Join(tokens[start:i], " ")
	}
	return rules, nil
}

func splitRegisterPrefix(tok string) (string, bool) {
	idx := strings.IndexByte(tok, ':')
	if idx <= 0 {
		return "", false
	}
	reg := tok[:idx]
	if !strings.HasPrefix(reg, "$") && !strings.HasPrefix(reg, ".") {
		return "", false
	}
	if idx != len(tok)-1 {
		return "", false
	}
	return reg, true
}

// --- numeric helpers ---

func (p *SymbolFileParser) parseHexUint64(tok, what string) (uint64, *ParseError) {
	v, err := strconv.ParseUint(tok, 16, 64)
	if err != nil {
		return 0, p.err(KindBadInteger, "%s %q is not a valid hexadecimal integer", what, tok)
	}
	return v, nil
}

func (p *SymbolFileParser) parseHexInt32(tok, what string) (int32, *ParseError) {
	v, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, p.err(KindBadInteger, "%s %q is not a valid hexadecimal integer", what, tok)
	}
	if v > 0x7fffffff {
		return 0, p.err(KindOverflow, "%s %q overflows a signed 32-bit integer", what, tok)
	}
	return int32(v), nil
}

// parseDecInt32 parses a decimal source line number that must fit a
// non-negative signed 32-bit integer.
func (p *SymbolFileParser) parseDecInt32(tok, what string) (int32, *ParseError) {
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, p.err(KindBadInteger, "%s %q is not a valid decimal integer", what, tok)
	}
	if v > 0x7fffffff {
		return 0, p.err(KindOverflow, "%s %q overflows a signed 32-bit integer", what, tok)
	}
	return int32(v), nil
}

func (p *SymbolFileParser) parseStackParamSize(tok string) (int32, *ParseError) {
	return p.parseHexInt32(tok, "stack param size")
}

// parseFileID parses a file id field, accepting the "-1"
// sentinel for "artificial / no file".
func (p *SymbolFileParser) parseFileID(tok string) (int32, *ParseError) {
	if tok == "-1" {
		return NoFileID, nil
	}
	return p.parseHexInt32(tok, "file id")
}

func (p *SymbolFileParser) err(kind ParseErrorKind, format string, args ...interface{}) *ParseError {
	return &ParseError{
		File:    p.fileName,
		Line:    p.lineNo,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// --- tokenizing helpers ---

func splitFirstToken(s string) (first, rest string) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeft(s[idx+1:], " \t")
}

func looksNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// stripTrailingComment removes a trailing "// ..." comment: the first
// whitespace-delimited token that begins with // and every token after it
// are dropped, and the remaining fields are rejoined with single spaces.
func stripTrailingComment(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.HasPrefix(f, "//") {
			fields = fields[:i]
			break
		}
	}
	return strings.Join(fields, " ")
}
