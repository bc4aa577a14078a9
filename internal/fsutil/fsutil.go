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

// Package fsutil holds small filesystem durability helpers shared by the
// publisher and the Self-Update Bootstrap: fsyncing a directory entry
// after a rename, so a crash right after "install complete" can't leave the
// rename unobserved on the next boot.
package fsutil

import "os"

// SyncDir fsyncs the directory at dir, committing any pending rename or
// create/unlink within it to stable storage. On platforms where directory
// fsync isn't meaningful (see fsutil_other.go), this is a no-op.
func SyncDir(dir string) error {
	return syncDir(dir)
}

// SyncFile is a small convenience used after writing a fresh temp file, so
// callers don't need to remember the open-sync-close sequence.
func SyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
