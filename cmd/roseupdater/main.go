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

// Command roseupdater is the client binary: it reconciles an install tree
// against a remote manifest, replacing itself first if the remote manifest
// names a newer updater, then launches the target game.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/juju/gnuflag"
	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/rednimgames/rose-updater/internal/cliutil"
	"github.com/rednimgames/rose-updater/internal/config"
	"github.com/rednimgames/rose-updater/internal/errkinds"
	"github.com/rednimgames/rose-updater/internal/selfupdate"
	"github.com/rednimgames/rose-updater/internal/sync"
	"github.com/rednimgames/rose-updater/internal/transport"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

// Exit codes consumed by the launcher GUI and wrapper scripts.
const (
	exitOK               = 0
	exitNetworkFailure   = 2
	exitIntegrityFailure = 3
	exitLocalIOFailure   = 4
	exitCancelled        = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := gnuflag.NewFlagSet("roseupdater", gnuflag.ExitOnError)
	remoteURL := fs.String("url", "", "remote_url: base URL or cloud-store root of the published manifest and archives")
	forceRecheck := fs.Bool("force-recheck", false, "rechunk and reverify every local file, even if the manifest already matches")
	forceRecheckUpdater := fs.Bool("force-recheck-updater", false, "replace the updater binary itself without comparing its on-disk hash")
	installRoot := fs.String("install-root", "", "directory the managed files live under")
	profileKey := fs.String("profile", "", "cache namespace; defaults to the host component of --url")
	launchExe := fs.String("launch", "", "executable to run after a successful sync")
	postSelfUpdate := fs.Bool("post-self-update", false, "internal: set by a self-replacing updater on its replacement's first run")
	configPath := fs.String("config", "", "path to rose-updater.toml; defaults next to the executable")
	cpuProfilePath := fs.String("profile-cpu", "", "write a pprof CPU profile to this path")
	noColor := fs.Bool("no-color", false, "disable colored progress output")
	fs.Parse(true, args)

	launchArgs := fs.Args()
	if i := indexOf(args, "--"); i >= 0 && i+1 <= len(args) {
		launchArgs = args[i+1:]
	}

	if *remoteURL == "" || *installRoot == "" {
		fmt.Fprintln(os.Stderr, "roseupdater: --url and --install-root are required")
		return exitLocalIOFailure
	}
	if *profileKey == "" {
		*profileKey = hostOf(*remoteURL)
	}

	if *cpuProfilePath != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfilePath)).Stop()
	}

	cliutil.PrintBanner("roseupdater", version, *profileKey)

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar().With("profile_key", *profileKey, "remote_url", *remoteURL)

	cfgPath := *configPath
	if cfgPath == "" {
		if exe, err := os.Executable(); err == nil {
			cfgPath = filepath.Join(filepath.Dir(exe), "rose-updater.toml")
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Errorw("failed to load config", "error", err)
		return exitLocalIOFailure
	}

	if len(launchArgs) == 0 {
		defaultArgs, err := cliutil.TokenizeLaunchArgs(cfg.Launch.Args)
		if err != nil {
			log.Errorw("invalid launch args in config", "error", err)
			return exitLocalIOFailure
		}
		launchArgs = defaultArgs
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	exePath, err := os.Executable()
	if err != nil {
		log.Errorw("could not resolve own executable path", "error", err)
		exePath = ""
	}
	if exePath != "" && !*postSelfUpdate {
		if err := selfupdate.RecoverCrashedRename(exePath); err != nil {
			log.Infow("recovered crashed self-update rename", "error", err)
		}
	}

	origin, err := transport.Open(ctx, *remoteURL)
	if err != nil {
		log.Errorw("failed to open remote origin", "error", err)
		return exitNetworkFailure
	}

	var sink = progressSink(*noColor)

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	localManifestPath := filepath.Join(cacheDir, "updater", *profileKey, "local_manifest.toml")

	res, err := sync.Run(ctx, sync.Options{
		RemoteURL:           *remoteURL,
		InstallRoot:         *installRoot,
		ProfileKey:          *profileKey,
		ForceRecheck:        *forceRecheck,
		ForceRecheckUpdater: *forceRecheckUpdater,
		MaxFilesInFlight:    cfg.Sync.MaxFilesInFlight,
		AllowWideReuse:      cfg.Sync.AllowWideReuse,
		ExePath:             exePath,
		PostSelfUpdate:      *postSelfUpdate,
		Sink:                sink,
		ReconstructConfig:   cfg.ReconstructConfig(),
	}, origin, localManifestPath)

	if res.SelfUpdated {
		log.Infow("replaced self, relaunching")
		selfArgs := append([]string{"--post-self-update"}, args...)
		if err := cliutil.Launch(ctx, exePath, selfArgs); err != nil {
			log.Errorw("failed to relaunch after self-update", "error", err)
			return exitLocalIOFailure
		}
		return exitOK
	}

	if err != nil {
		return exitForError(log, err)
	}
	if len(res.Failed) > 0 {
		for path, ferr := range res.Failed {
			log.Errorw("file failed to sync", "path", path, "error", ferr)
		}
		return exitForFailedSet(res.Failed)
	}

	p50, p95, p99 := transport.Latencies.Percentiles()
	log.Infow("sync complete", "reconstructed", len(res.Reconstructed),
		"latency_p50_us", p50, "latency_p95_us", p95, "latency_p99_us", p99)

	if *launchExe != "" {
		if err := cliutil.Launch(ctx, *launchExe, launchArgs); err != nil {
			log.Errorw("failed to launch target executable", "error", err)
			return exitLocalIOFailure
		}
	}
	return exitOK
}

func exitForError(log *zap.SugaredLogger, err error) int {
	switch {
	case errkinds.Cancelled.Is(err):
		log.Infow("run cancelled")
		return exitCancelled
	case errkinds.NetworkTransient.Is(err), errkinds.NetworkFatal.Is(err):
		log.Errorw("network failure", "error", err)
		return exitNetworkFailure
	case errkinds.ManifestDecode.Is(err), errkinds.ArchiveDecode.Is(err), errkinds.ArchiveMismatch.Is(err), errkinds.HashMismatch.Is(err):
		log.Errorw("integrity failure", "error", err)
		return exitIntegrityFailure
	default:
		log.Errorw("local I/O failure", "error", err)
		return exitLocalIOFailure
	}
}

// exitForFailedSet picks one exit code for a mixed bag of per-file
// failures: an integrity failure anywhere outranks a network failure,
// which outranks plain local I/O.
func exitForFailedSet(failed map[string]error) int {
	code := exitLocalIOFailure
	for _, err := range failed {
		switch {
		case errkinds.ManifestDecode.Is(err), errkinds.ArchiveDecode.Is(err),
			errkinds.ArchiveMismatch.Is(err), errkinds.HashMismatch.Is(err):
			return exitIntegrityFailure
		case errkinds.NetworkTransient.Is(err), errkinds.NetworkFatal.Is(err):
			code = exitNetworkFailure
		}
	}
	return code
}

func progressSink(noColor bool) *cliutil.Bar {
	if noColor {
		color.NoColor = true
	}
	return cliutil.NewBar(os.Stdout)
}

func hostOf(remoteURL string) string {
	u, err := url.Parse(remoteURL)
	if err != nil || u.Host == "" {
		return strings.Trim(remoteURL, "/")
	}
	return u.Host
}

func indexOf(args []string, needle string) int {
	for i, a := range args {
		if a == needle {
			return i
		}
	}
	return -1
}
