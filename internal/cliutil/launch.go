// Copyright 2026 Rednim Games, Inc.
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

package cliutil

import (
	"context"
	"os"
	"os/exec"

	shlex "github.com/flynn-archive/go-shlex"
)

// TokenizeLaunchArgs splits a shell-style argument string (as read from
// config.Launch.Args) the way a shell would, honoring quoting.
func TokenizeLaunchArgs(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	return shlex.Split(s)
}

// Launch execs exePath with args, replacing the child's stdio with the
// parent's, and waits for it to exit. It is used only after a sync has
// finished successfully.
func Launch(ctx context.Context, exePath string, args []string) error {
	cmd := exec.CommandContext(ctx, exePath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
