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

// Package transport implements the byte-range origins a Reconstructor and
// Orchestrator fetch manifests and archives from: plain HTTP(S), and the
// S3/GCS/Aliyun-OSS object stores that the publisher may also target,
// since "any HTTP server that honors byte-range requests" extends
// naturally to any store with a native range-get.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

// Origin is the capability a Reconstructor needs from wherever archives
// and manifests live: fetch a byte range and the whole object.
type Origin interface {
	// GetRange fetches [start, start+length) from path, relative to the
	// origin's configured root (a URL, bucket, etc).
	GetRange(ctx context.Context, path string, start, length int64) ([]byte, error)
	// Get fetches the entirety of path, used for the manifest itself.
	Get(ctx context.Context, path string) ([]byte, error)
}

// Open resolves remoteRoot's scheme and returns the matching Origin.
// "s3://bucket/prefix", "gs://bucket/prefix", and "oss://bucket/prefix"
// select the corresponding cloud backend; anything else is treated as an
// https?:// base URL that archive paths are joined onto.
func Open(ctx context.Context, remoteRoot string) (Origin, error) {
	switch {
	case strings.HasPrefix(remoteRoot, "s3://"):
		return newS3Origin(ctx, strings.TrimPrefix(remoteRoot, "s3://"))
	case strings.HasPrefix(remoteRoot, "gs://"):
		return newGCSOrigin(ctx, strings.TrimPrefix(remoteRoot, "gs://"))
	case strings.HasPrefix(remoteRoot, "oss://"):
		return newOSSOrigin(strings.TrimPrefix(remoteRoot, "oss://"))
	case strings.HasPrefix(remoteRoot, "http://"), strings.HasPrefix(remoteRoot, "https://"):
		return newHTTPOrigin(remoteRoot), nil
	default:
		return nil, errkinds.NetworkFatal.New(fmt.Sprintf("unrecognized remote_url scheme: %s", remoteRoot))
	}
}

// RetryPolicy bounds NetworkTransient retries: exponential backoff, base
// 500ms, cap 30s, at most MaxAttempts tries.
func RetryPolicy() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

// MaxAttempts is the retry ceiling for NetworkTransient errors.
const MaxAttempts = 5
