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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

// s3Origin treats an "s3://bucket/prefix" remote_url as its own Origin,
// translating ranged fetches into S3 GetObject calls with a Range header
// rather than HTTP Range requests against a web server.
type s3Origin struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Origin(ctx context.Context, rest string) (*s3Origin, error) {
	bucket, prefix := splitBucketPrefix(rest)
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errkinds.NetworkFatal.New(fmt.Sprintf("load AWS config: %v", err))
	}
	return &s3Origin{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func (o *s3Origin) key(path string) string {
	if o.prefix == "" {
		return path
	}
	return strings.TrimSuffix(o.prefix, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (o *s3Origin) Get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, func() error {
		out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &o.bucket,
			Key:    strPtr(o.key(path)),
		})
		if err != nil {
			return classifyS3Err(path, err)
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	return body, err
}

func (o *s3Origin) GetRange(ctx context.Context, path string, start, length int64) ([]byte, error) {
	var body []byte
	rng := fmt.Sprintf("bytes=%d-%d", start, start+length-1)
	err := withRetry(ctx, func() error {
		out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &o.bucket,
			Key:    strPtr(o.key(path)),
			Range:  &rng,
		})
		if err != nil {
			return classifyS3Err(path, err)
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	return body, err
}

func classifyS3Err(path string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errkinds.NetworkFatal.New(fmt.Sprintf("s3 object missing: %s", path))
		}
	}
	return errkinds.NetworkTransient.New(err.Error())
}

func strPtr(s string) *string { return &s }
