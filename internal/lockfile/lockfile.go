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

// Package lockfile guards an install root against two sync runs (or a
// sync run and a self-update) operating on it concurrently. It is a thin
// wrapper over a single advisory file lock.
package lockfile

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/dolthub/fslock"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

const fileName = ".rose-update.lock"

// DefaultTimeout bounds how long Acquire waits for a competing run to
// finish before giving up.
const DefaultTimeout = 5 * time.Second

// Lock holds an acquired advisory lock over one install root.
type Lock struct {
	fl *fslock.Lock
}

// Acquire takes the install root's lock file, waiting up to timeout for a
// competing holder to release it. ErrBusy is returned on timeout; the
// caller owns deciding whether that is fatal.
func Acquire(installRoot string, timeout time.Duration) (*Lock, error) {
	fl := fslock.New(filepath.Join(installRoot, fileName))
	err := fl.LockWithTimeout(timeout)
	if errors.Is(err, fslock.ErrTimeout) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, errkinds.IoError.New(err.Error())
	}
	return &Lock{fl: fl}, nil
}

// ErrBusy is returned when another process holds the install root's lock.
var ErrBusy = errors.New("lockfile: install root is locked by another run")

// Release gives up the lock. It is safe to call once; the lock is not
// reusable afterward.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
