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

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

// gcsOrigin treats a "gs://bucket/prefix" remote_url as its own Origin,
// using storage.Object.NewRangeReader for ranged fetches instead of an
// HTTP Range header.
type gcsOrigin struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCSOrigin(ctx context.Context, rest string) (*gcsOrigin, error) {
	bucket, prefix := splitBucketPrefix(rest)
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errkinds.NetworkFatal.New(fmt.Sprintf("create GCS client: %v", err))
	}
	return &gcsOrigin{client: client, bucket: bucket, prefix: prefix}, nil
}

func (o *gcsOrigin) object(path string) string {
	if o.prefix == "" {
		return path
	}
	return strings.TrimSuffix(o.prefix, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (o *gcsOrigin) Get(ctx context.Context, path string) ([]byte, error) {
	return o.GetRange(ctx, path, 0, -1)
}

// GetRange fetches [start, start+length). A negative length fetches to
// end of object, matching storage.NewRangeReader's own convention and used
// by Get to fetch an entire manifest.
func (o *gcsOrigin) GetRange(ctx context.Context, path string, start, length int64) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, func() error {
		obj := o.client.Bucket(o.bucket).Object(o.object(path))
		rd, err := obj.NewRangeReader(ctx, start, length)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return errkinds.NetworkFatal.New(fmt.Sprintf("gcs object missing: %s", path))
			}
			return errkinds.NetworkTransient.New(err.Error())
		}
		defer rd.Close()
		body, err = io.ReadAll(rd)
		return err
	})
	return body, err
}
