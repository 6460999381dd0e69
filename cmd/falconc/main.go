// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Command falconc is the CLI boundary of spec.md §6, replacing the
// teacher's bare os.Args-inspecting main.go with flag parsing via pflag.
package main

import (
	"fmt"
	"io"
	"os"

	"falcon/compile"
	"falcon/compile/types"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("falconc", pflag.ContinueOnError)
	help := flags.BoolP("help", "h", false, "print usage")
	arch := flags.StringP("arch", "a", "x86_64", "target architecture: x86_64 or x86_32")
	verbose := flags.BoolP("verbose", "v", false, "enable debug tracing")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: falconc [-a x86_64|x86_32] [-v] <file|->")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *help {
		flags.Usage()
		return 0
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return 1
	}

	isa, err := parseArch(*arch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "falconc:", err)
		return 1
	}

	input, err := readInput(flags.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "falconc:", err)
		return 1
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx := compile.NewContext(isa, log)
	fn, err := decodeFunc(input, ctx.Types, isa)
	if err != nil {
		fmt.Fprintln(os.Stderr, "falconc:", err)
		return 1
	}

	asm, err := ctx.Compile(fn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "falconc:", err)
		return 1
	}
	fmt.Print(asm)
	return 0
}

func parseArch(s string) (types.TargetISA, error) {
	switch s {
	case "x86_64":
		return types.ISAAMD64, nil
	case "x86_32":
		return types.ISA386, nil
	}
	return 0, fmt.Errorf("unsupported architecture %q", s)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
