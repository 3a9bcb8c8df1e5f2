// Copyright 2025 The bootloom Authors.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileOpts configures how OpenFile resolves a log destination pattern.
type FileOpts struct {
	// Command replaces %COMMAND% in the pattern, so per-subcommand logs
	// can share one flag value.
	Command string

	// Default is the file name appended when the pattern names a
	// directory (ends with a separator). Variables are substituted in it
	// as well.
	Default string
}

// OpenFile opens a log file for appending, creating it and its parent
// directory as needed. The pattern may contain variables:
//   - %TIMESTAMP%: replaced with <yyyymmdd-hhmmss.uuuuuu>
//   - %COMMAND%: replaced with opts.Command
func OpenFile(pattern string, opts FileOpts) (*os.File, error) {
	if strings.HasSuffix(pattern, "/") {
		pattern += opts.Default
	}
	pattern = strings.ReplaceAll(pattern, "%TIMESTAMP%", time.Now().Format("20060102-150405.000000"))
	pattern = strings.ReplaceAll(pattern, "%COMMAND%", opts.Command)

	dir := filepath.Dir(pattern)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(pattern, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", pattern, err)
	}
	return f, nil
}
