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
	"github.com/sirupsen/logrus"
)

// PrintBanner writes the one-line pre-flight banner each cmd/ binary shows
// before it opens the structured log. This is the only use of logrus in the
// module; everything after this line goes through zap.
func PrintBanner(name, version, profileKey string) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, ForceColors: true})
	log.WithFields(logrus.Fields{
		"version": version,
		"profile": profileKey,
	}).Info(name)
}
