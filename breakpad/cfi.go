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

// CFIEvaluator recovers a caller's register set from a CFIRuleSet and the
// callee's current registers.
type CFIEvaluator struct {
	postfix *PostfixEvaluator
}

// NewCFIEvaluator returns a CFIEvaluator backed by a PostfixEvaluator of the
// given word width.
func NewCFIEvaluator(width int) *CFIEvaluator {
	return &CFIEvaluator{postfix: NewPostfixEvaluator(width)}
}

// CallerRegisters evaluates rs's rules in effect at pc against current,
// returning the caller's register set. It fails (ok == false) if .cfa
// cannot be evaluated, any other rule's expression fails to evaluate, or
// .ra is never bound.
func (c *CFIEvaluator) CallerRegisters(rs *CFIRuleSet, pc uint64, current map[string]uint64, mem MemoryRegion) (map[string]uint64, bool) {
	rules := rs.effectiveRules(pc)

	cfaExpr, ok := rules[".cfa"]
	if !ok {
		return nil, false
	}
	cfa, err := c.postfix.EvaluateForResult(cfaExpr, current, mem)
	if err != nil {
		return nil, false
	}

	// Registers the rule set doesn't mention are carried over unchanged.
	out := cloneRegs(current)
	out[".cfa"] = cfa

	env := cloneRegs(current)
	env[".cfa"] = cfa

	for reg, expr := range rules {
		if reg == ".cfa" {
			continue
		}
		v, err := c.postfix.EvaluateForResult(expr, env, mem)
		if err != nil {
			return nil, false
		}
		out[reg] = v
	}

	if _, ok := out[".ra"]; !ok {
		return nil, false
	}
	return out, true
}
