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
	"path"
	"strconv"
	"strings"
)

// FileLine formats a StackFrame's source location the way command-line
// tools report it: base file name, colon, 1-based line number. Returns ""
// if file is empty (no line information resolved).
func FileLine(file string, line int) string {
	if file == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", path.Base(file), line)
}

// ParseAddress converts a hex string in either 0xABC123 or bare ABC123 form
// into an integer, the way addresses are given on the command line and in
// a symbol file's own records.
func ParseAddress(addr string) (uint64, error) {
	addr = strings.TrimPrefix(addr, "0x")
	addr = strings.TrimPrefix(addr, "0X")
	return strconv.ParseUint(addr, 16, 64)
}
