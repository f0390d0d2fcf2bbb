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
	"os"
	"sync"

	"github.com/apex/log"
)

// SourceLineResolver is the module-table facade: it owns zero or more
// ModuleIndex instances keyed by CodeModule identity and answers
// Fill/FindWindowsFrameInfo/FindCFIFrameInfo against whichever module a
// query's CodeModule names.
//
// A single SourceLineResolver is safe for concurrent use by multiple
// readers; LoadModule/UnloadModule take a write lock and briefly exclude
// readers, a copy-on-write, single-writer/multi-reader model.
type SourceLineResolver struct {
	logger log.Interface

	mu      sync.RWMutex
	modules map[string]*ModuleIndex
}

// NewSourceLineResolver returns an empty resolver. logger receives one
// warning per parse or semantic error encountered while loading a module;
// pass nil to use the package-level apex/log logger.
func NewSourceLineResolver(logger log.Interface) *SourceLineResolver {
	if logger == nil {
		logger = log.Log
	}
	return &SourceLineResolver{
		logger:  logger,
		modules: make(map[string]*ModuleIndex),
	}
}

func moduleKey(module CodeModule) string {
	return module.CodeFile() + "|" + module.DebugIdentifier()
}

// LoadModule reads and indexes the symbol file at path, associating it with
// module's identity. It returns false (and loads nothing) if the file
// cannot be opened; a malformed-but-readable file still loads, marking the
// resulting ModuleIndex Corrupt rather than failing.
func (r *SourceLineResolver) LoadModule(module CodeModule, path string) bool {
	f, err := os.Open(path)
	if err != nil {
		r.logger.WithError(err).WithField("path", path).Warn("failed to open symbol file")
		return false
	}
	defer f.Close()

	idx := BuildModuleIndex(path, f, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Copy-on-write: replace the module table wholesale so readers holding
	// the old map under RLock never observe a partially updated entry.
	next := make(map[string]*ModuleIndex, len(r.modules)+1)
	for k, v := range r.modules {
		next[k] = v
	}
	next[moduleKey(module)] = idx
	r.modules = next
	return true
}

// UnloadModule removes module from the table. Subsequent Fill/Find* calls
// against it behave as if it were never loaded.
func (r *SourceLineResolver) UnloadModule(module CodeModule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[moduleKey(module)]; !ok {
		return
	}
	next := make(map[string]*ModuleIndex, len(r.modules))
	for k, v := range r.modules {
		if k != moduleKey(module) {
			next[k] = v
		}
	}
	r.modules = next
}

// HasModule reports whether module is currently loaded.
func (r *SourceLineResolver) HasModule(module CodeModule) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[moduleKey(module)]
	return ok
}

// IsModuleCorrupt reports whether module is loaded and its symbol file
// contained at least one dropped line or semantic inconsistency.
func (r *SourceLineResolver) IsModuleCorrupt(module CodeModule) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.modules[moduleKey(module)]
	return ok && idx.Corrupt
}

// FillSourceLineInfo resolves frame.Instruction against frame.Module and
// rewrites frame's function/file/line fields in place. If inlines is
// non-nil and the address falls inside an inlined call, it is appended
// with one *StackFrame per inline level, innermost first. If frame.Module
// is nil or not loaded, frame's fields are left unset (only Module and
// Instruction retained).
func (r *SourceLineResolver) FillSourceLineInfo(frame *StackFrame, inlines *[]*StackFrame) {
	if frame.Module == nil {
		frame.reset()
		return
	}
	r.mu.RLock()
	idx, ok := r.modules[moduleKey(frame.Module)]
	r.mu.RUnlock()
	if !ok {
		frame.reset()
		return
	}
	base := frame.Module.BaseAddress()
	idx.Fill(frame.Instruction-base, base, frame, inlines)
}

// FindWindowsFrameInfo returns the STACK WIN record covering the
// instruction's module-relative address, or nil if module isn't loaded or
// no record covers it.
func (r *SourceLineResolver) FindWindowsFrameInfo(module CodeModule, instruction uint64) *WindowsFrameInfo {
	idx, ok := r.lookup(module)
	if !ok {
		return nil
	}
	return idx.FindWindowsFrameInfo(instruction - module.BaseAddress())
}

// FindCFIFrameInfo returns the CFIRuleSet covering the instruction's
// module-relative address, or nil if module isn't loaded or no record
// covers it.
func (r *SourceLineResolver) FindCFIFrameInfo(module CodeModule, instruction uint64) *CFIRuleSet {
	idx, ok := r.lookup(module)
	if !ok {
		return nil
	}
	return idx.FindCFI(instruction - module.BaseAddress())
}

func (r *SourceLineResolver) lookup(module CodeModule) (*ModuleIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.modules[moduleKey(module)]
	return idx, ok
}
