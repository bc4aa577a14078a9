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

// Command rosepublish is the publisher binary: it scans a source tree,
// chunks every file, writes one Chunk Archive per file plus a manifest,
// ready to be uploaded as-is to any HTTP server (or S3/GCS/OSS bucket)
// that honors byte-range requests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/juju/gnuflag"
	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/rednimgames/rose-updater/internal/cliutil"
	"github.com/rednimgames/rose-updater/internal/config"
	"github.com/rednimgames/rose-updater/internal/publish"
)

var version = "dev"

const (
	exitOK        = 0
	exitIOFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := gnuflag.NewFlagSet("rosepublish", gnuflag.ExitOnError)
	sourceRoot := fs.String("source", "", "directory tree to publish")
	outputDir := fs.String("output", "", "directory to write manifest.toml and archives/ into")
	profileKey := fs.String("profile", "", "profile_key stamped into the manifest, for symmetry with the client's cache namespace")
	zstdLevel := fs.Int("zstd-level", 9, "zstd compression level used for every chunk payload")
	maxFilesInFlight := fs.Int("jobs", 0, "files archived concurrently; 0 selects min(4, NumCPU)")
	configPath := fs.String("config", "", "path to rose-updater.toml; defaults next to the executable")
	cpuProfilePath := fs.String("profile-cpu", "", "write a pprof CPU profile to this path")
	fs.Parse(true, args)

	if *sourceRoot == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "rosepublish: --source and --output are required")
		return exitIOFailure
	}

	if *cpuProfilePath != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfilePath)).Stop()
	}

	cliutil.PrintBanner("rosepublish", version, *profileKey)

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar().With("source", *sourceRoot, "output", *outputDir)

	cfgPath := *configPath
	if cfgPath == "" {
		if exe, err := os.Executable(); err == nil {
			cfgPath = filepath.Join(filepath.Dir(exe), "rose-updater.toml")
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Errorw("failed to load config", "error", err)
		return exitIOFailure
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bar := cliutil.NewBar(os.Stdout)
	res, err := publish.Run(ctx, publish.Options{
		SourceRoot:       *sourceRoot,
		OutputDir:        *outputDir,
		ProfileKey:       *profileKey,
		ChunkerParams:    cfg.ChunkerParams(),
		ZstdLevel:        *zstdLevel,
		MaxFilesInFlight: *maxFilesInFlight,
		Sink:             bar,
	})
	if err != nil {
		log.Errorw("publish run failed", "error", err)
		return exitIOFailure
	}
	if len(res.Failed) > 0 {
		for path, ferr := range res.Failed {
			log.Errorw("file failed to publish", "path", path, "error", ferr)
		}
		log.Errorw("manifest.toml not written: publish had failures", "failed_count", len(res.Failed))
		return exitIOFailure
	}

	log.Infow("publish complete", "files", len(res.Manifest.Files))
	return exitOK
}
