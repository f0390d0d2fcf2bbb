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

// CodeModule describes a single loaded code module, as understood by the
// stack-walker that drives a SourceLineResolver. It is treated as opaque by
// this package: only CodeFile, DebugIdentifier and BaseAddress are ever
// read. Callers own the values they hand us and are free to reuse the same
// CodeModule across calls; equality is by CodeFile plus DebugIdentifier,
// not pointer identity.
type CodeModule interface {
	// CodeFile is the identity string for this module (e.g. a binary's
	// name); together with DebugIdentifier it forms the key under which its
	// ModuleIndex is stored.
	CodeFile() string

	// BaseAddress is the address at which this module was loaded.
	BaseAddress() uint64

	// Size is the number of bytes this module occupies in memory.
	Size() uint64

	// DebugIdentifier is the unique identifier recorded in the module's
	// symbol file (the MODULE record's id field).
	DebugIdentifier() string

	// IsUnloaded reports whether the module has since been unmapped.
	IsUnloaded() bool
}

// MemoryRegion is the memory oracle used by PostfixEvaluator and
// CFIEvaluator to dereference addresses (the postfix '^' operator). It is
// supplied by the caller and is read-only from this package's perspective.
type MemoryRegion interface {
	// ReadMemory reads a width-bit (8, 16, 32, or 64) little-endian value at
	// address. The second return value is false if the address is not
	// mapped or width is unsupported.
	ReadMemory(address uint64, width int) (uint64, bool)
}

// Trust describes the confidence assigned to a reconstructed stack frame.
// Only TrustInline is ever set by this package; the others exist so a
// stack-walker using the full FrameTrust vocabulary can store its own
// trust level on the same field without a second type.
type Trust int

const (
	TrustNone Trust = iota
	TrustScan
	TrustCFIScan
	TrustFP
	TrustCFI
	TrustContext
	TrustPrewalked
	// TrustInline marks a frame synthesized by expanding an inlined call,
	// not by unwinding a physical stack frame.
	TrustInline
)

func (t Trust) String() string {
	switch t {
	case TrustNone:
		return "none"
	case TrustScan:
		return "scan"
	case TrustCFIScan:
		return "cfi-scan"
	case TrustFP:
		return "frame-pointer"
	case TrustCFI:
		return "cfi"
	case TrustContext:
		return "context"
	case TrustPrewalked:
		return "prewalked"
	case TrustInline:
		return "inline"
	default:
		return "unknown"
	}
}

// StackFrame is filled in by SourceLineResolver.FillSourceLineInfo. Fields
// not resolved are left at their zero value.
type StackFrame struct {
	// Module is the module the Instruction falls within. May be nil.
	Module CodeModule

	// Instruction is the absolute instruction address for this frame.
	Instruction uint64

	// FunctionName is the symbol (FUNC or PUBLIC) covering Instruction.
	FunctionName string

	// FunctionBase is the absolute address at which FunctionName begins.
	FunctionBase uint64

	// SourceFileName is the source file covering Instruction, if known.
	SourceFileName string

	// SourceLine is the 1-based source line covering Instruction, or 0.
	SourceLine int

	// SourceLineBase is the absolute address at which the SourceLine's
	// Line record begins.
	SourceLineBase uint64

	// IsMultiple is true when more than one symbol resolves to the same
	// address as FunctionName.
	IsMultiple bool

	// Trust is only meaningful on frames emitted as part of an inline
	// chain, where it is always TrustInline.
	Trust Trust
}

// reset clears the fields FillSourceLineInfo owns, leaving Module and
// Instruction untouched.
func (f *StackFrame) reset() {
	f.FunctionName = ""
	f.FunctionBase = 0
	f.SourceFileName = ""
	f.SourceLine = 0
	f.SourceLineBase = 0
	f.IsMultiple = false
}
