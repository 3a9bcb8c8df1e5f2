// Copyright 2024 The bootloom Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli is the main entrypoint for loomctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"

	"github.com/bootloom/bootloom/loomctl/cmd"
	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/log"
)

var (
	layoutPath = flag.String("layout", "", "path to a TOML layout file; empty uses the built-in layout.")
	debug      = flag.Bool("debug", false, "enable debug logging.")
	debugLog   = flag.String("debug-log", "", "file to append logs to; a trailing '/' names a directory, and %TIMESTAMP%/%COMMAND% are substituted. Empty logs to stderr only with -debug.")
	logFormat  = flag.String("log-format", "text", "log format: text or json.")
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Command output owns stdout; logs stay out of the way unless asked
	// for, matching what scripted callers expect.
	switch {
	case *debugLog != "":
		subcommand := flag.Arg(0)
		if subcommand == "" {
			subcommand = "loomctl"
		}
		f, err := log.OpenFile(*debugLog, log.FileOpts{
			Command: subcommand,
			Default: "loomctl.log.%TIMESTAMP%.%COMMAND%.txt",
		})
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", *debugLog, err)
		}
		log.SetTarget(newEmitter(*logFormat, f))
	case *debug:
		log.SetTarget(newEmitter(*logFormat, os.Stderr))
	default:
		log.SetTarget(newEmitter(*logFormat, io.Discard))
	}
	if *debug {
		log.SetLevel(log.Debug)
	}

	l := layout.Default()
	if *layoutPath != "" {
		var err error
		if l, err = layout.Load(*layoutPath); err != nil {
			cmd.Fatalf("%v", err)
		}
	} else if err := l.Validate(); err != nil {
		cmd.Fatalf("built-in layout: %v", err)
	}

	log.Infof("loomctl: %s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	log.Debugf("Layout: slots self=%d direct=%d kernel=%d, tables at %#x, entry %#x",
		l.SelfSlot, l.DirectSlot, l.KernelSlot, uint64(l.TableBase), uint64(l.KernelEntry))

	// Call the subcommand and pass in the layout.
	os.Exit(int(subcommands.Execute(context.Background(), l)))
}

// forEachCmd invokes the passed callback for each command supported by
// loomctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Build), "")
	cb(new(cmd.Dump), "")
	cb(new(cmd.Layout), "")
	cb(new(cmd.Simulate), "")
	cb(new(cmd.Verify), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
