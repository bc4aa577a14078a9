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
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

var defaultDialer = &net.Dialer{
	Timeout:   10 * time.Second,
	KeepAlive: 30 * time.Second,
}

// sharedTransport is the single connection-pooled *http.Transport every
// httpOrigin uses; the idle pool is capped at 16 connections.
var sharedTransport = func() *http.Transport {
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           defaultDialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
	_ = http2.ConfigureTransport(t)
	return t
}()

type httpOrigin struct {
	baseURL string
	client  *http.Client
}

func newHTTPOrigin(baseURL string) *httpOrigin {
	return &httpOrigin{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Transport: sharedTransport},
	}
}

func (o *httpOrigin) resolve(path string) string {
	return o.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (o *httpOrigin) Get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.resolve(path), nil)
		if err != nil {
			return errkinds.NetworkFatal.New(err.Error())
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return errkinds.NetworkTransient.New(err.Error())
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return errkinds.NetworkFatal.New(fmt.Sprintf("404 fetching %s", path))
		}
		if resp.StatusCode >= 500 {
			return errkinds.NetworkTransient.New(fmt.Sprintf("server error %d fetching %s", resp.StatusCode, path))
		}
		if resp.StatusCode != http.StatusOK {
			return errkinds.NetworkFatal.New(fmt.Sprintf("unexpected status %d fetching %s", resp.StatusCode, path))
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

// GetRange issues `Range: bytes=A-B` against path. A 206 response is used
// as-is; a 200 (origin ignored the Range header) is accepted and sliced
// client-side.
func (o *httpOrigin) GetRange(ctx context.Context, path string, start, length int64) ([]byte, error) {
	var body []byte
	end := start + length - 1
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.resolve(path), nil)
		if err != nil {
			return errkinds.NetworkFatal.New(err.Error())
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

		resp, err := o.client.Do(req)
		if err != nil {
			return errkinds.NetworkTransient.New(err.Error())
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound:
			return errkinds.NetworkFatal.New(fmt.Sprintf("404 fetching %s", path))
		case http.StatusPartialContent:
			body, err = io.ReadAll(resp.Body)
			return err
		case http.StatusOK:
			full, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if start+length > int64(len(full)) {
				return errkinds.NetworkFatal.New("origin returned a body shorter than the requested range")
			}
			body = full[start : start+length]
			return nil
		default:
			if resp.StatusCode >= 500 {
				return errkinds.NetworkTransient.New(fmt.Sprintf("server error %d fetching %s", resp.StatusCode, path))
			}
			return errkinds.NetworkFatal.New(fmt.Sprintf("unexpected status %d fetching %s", resp.StatusCode, path))
		}
	})
	return body, err
}
