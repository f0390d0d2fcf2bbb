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

/*
symresolve loads a single Breakpad symbol file against a base address and
resolves addresses against it, the way atobs resolved addresses against a
single dSYM. Unlike atobs it exposes the resolver's full operation set:
source line lookup (with inline expansion), Windows frame data, and CFI
rule sets.
*/
package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/Mu-L/breakpad/breakpad"
)

var (
	symbolFile  string
	baseAddrHex string
	moduleID    string
)

// module is the minimal breakpad.CodeModule this CLI ever needs: one
// symbol file pretending to be loaded at one base address.
type module struct {
	file string
	base uint64
	id   string
}

func (m *module) CodeFile() string        { return m.file }
func (m *module) BaseAddress() uint64     { return m.base }
func (m *module) Size() uint64            { return 0 }
func (m *module) DebugIdentifier() string { return m.id }
func (m *module) IsUnloaded() bool        { return false }

func main() {
	log.SetHandler(cli.Default)

	root := &cobra.Command{
		Use:   "symresolve",
		Short: "Resolve addresses against a single Breakpad symbol file",
	}
	root.PersistentFlags().StringVarP(&symbolFile, "symbols", "o", "", "path to the Breakpad .sym file")
	root.PersistentFlags().StringVarP(&baseAddrHex, "base", "l", "0x0", "load address the module was mapped at")
	root.PersistentFlags().StringVar(&moduleID, "id", "", "debug identifier to report for the module")
	root.MarkPersistentFlagRequired("symbols")

	root.AddCommand(lineCommand(), winFrameCommand(), cfiCommand())

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("symresolve failed")
	}
}

func openResolver() (*breakpad.SourceLineResolver, *module, error) {
	base, err := breakpad.ParseAddress(baseAddrHex)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid base address %q: %w", baseAddrHex, err)
	}
	mod := &module{file: symbolFile, base: base, id: moduleID}

	resolver := breakpad.NewSourceLineResolver(nil)
	if !resolver.LoadModule(mod, symbolFile) {
		return nil, nil, fmt.Errorf("failed to load %s", symbolFile)
	}
	if resolver.IsModuleCorrupt(mod) {
		log.Warnf("%s contained malformed records; results may be incomplete", symbolFile)
	}
	return resolver, mod, nil
}

func lineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "line <address>...",
		Short: "Resolve one or more addresses to function and source line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, mod, err := openResolver()
			if err != nil {
				return err
			}
			for _, a := range args {
				addr, err := breakpad.ParseAddress(a)
				if err != nil {
					return fmt.Errorf("invalid address %q: %w", a, err)
				}
				frame := breakpad.StackFrame{Module: mod, Instruction: addr}
				var inlines []*breakpad.StackFrame
				resolver.FillSourceLineInfo(&frame, &inlines)
				printFrame(addr, &frame)
				for _, inline := range inlines {
					printFrame(addr, inline)
				}
			}
			return nil
		},
	}
}

func printFrame(addr uint64, frame *breakpad.StackFrame) {
	name := frame.FunctionName
	if name == "" {
		name = "<unknown>"
	}
	loc := breakpad.FileLine(frame.SourceFileName, frame.SourceLine)
	if loc != "" {
		fmt.Printf("0x%x: %s (%s)\n", addr, name, loc)
	} else {
		fmt.Printf("0x%x: %s\n", addr, name)
	}
}

func winFrameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "winframe <address>",
		Short: "Print the STACK WIN record covering address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, mod, err := openResolver()
			if err != nil {
				return err
			}
			addr, err := breakpad.ParseAddress(args[0])
			if err != nil {
				return err
			}
			info := resolver.FindWindowsFrameInfo(mod, addr)
			if info == nil {
				fmt.Println("no STACK WIN record covers that address")
				return nil
			}
			fmt.Printf("type=%d params=%d saved=%d locals=%d program=%q\n",
				info.Type, info.ParameterSize, info.SavedRegisterSize, info.LocalSize, info.ProgramString)
			return nil
		},
	}
}

func cfiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cfi <address>",
		Short: "Print the STACK CFI rule set covering address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, mod, err := openResolver()
			if err != nil {
				return err
			}
			addr, err := breakpad.ParseAddress(args[0])
			if err != nil {
				return err
			}
			rs := resolver.FindCFIFrameInfo(mod, addr)
			if rs == nil {
				fmt.Println("no STACK CFI record covers that address")
				return nil
			}
			fmt.Printf("range=[0x%x, 0x%x) rules=%v deltas=%d\n", rs.Address, rs.Address+rs.Size, rs.Initial, len(rs.Deltas))
			return nil
		},
	}
}
