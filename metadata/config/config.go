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

package config

import (
	"time"

	"github.com/tufipfs/go-tuf-ipfs/metadata"
	"github.com/tufipfs/go-tuf-ipfs/metadata/fetcher"
)

// UpdaterConfig carries the updater's directories, URLs, limits and
// timeouts. LocalMetadataDir must contain a trusted root.json before the
// updater is created.
type UpdaterConfig struct {
	// limits enforced by the client workflow
	MaxRootRotations   int64
	RootMaxLength      int64
	TimestampMaxLength int64
	SnapshotMaxLength  int64
	TargetsMaxLength   int64
	// TargetMaxLength caps an artifact download when its record
	// declares no length
	TargetMaxLength int64
	// network timeouts, surfaced as download failures rather than hangs
	MetadataTimeout time.Duration
	GatewayTimeout  time.Duration
	// local paths
	LocalMetadataDir string
	LocalTargetsDir  string
	// remote endpoints
	RemoteMetadataURL string
	GatewayURL        string
	// Fetcher performs all HTTP retrieval; tests inject a simulator here
	Fetcher fetcher.Fetcher
}

// New creates an UpdaterConfig with sane defaults for the given remote
// metadata repository and IPFS gateway
func New(remoteMetadataURL, gatewayURL string) *UpdaterConfig {
	return &UpdaterConfig{
		MaxRootRotations:   32,
		RootMaxLength:      512000,     // bytes
		TimestampMaxLength: 16384,      // bytes
		SnapshotMaxLength:  2000000,    // bytes
		TargetsMaxLength:   5000000,    // bytes
		TargetMaxLength:    1073741824, // bytes
		MetadataTimeout:    15 * time.Second,
		GatewayTimeout:     5 * time.Second,
		RemoteMetadataURL:  remoteMetadataURL,
		GatewayURL:         gatewayURL,
		Fetcher:            &fetcher.DefaultFetcher{},
	}
}

// Validate reports missing required directories and URLs
func (cfg *UpdaterConfig) Validate() error {
	if cfg.LocalMetadataDir == "" {
		return metadata.ErrConfiguration{Msg: "LocalMetadataDir is not set"}
	}
	if cfg.RemoteMetadataURL == "" {
		return metadata.ErrConfiguration{Msg: "RemoteMetadataURL is not set"}
	}
	if cfg.GatewayURL == "" {
		return metadata.ErrConfiguration{Msg: "GatewayURL is not set"}
	}
	if cfg.Fetcher == nil {
		return metadata.ErrConfiguration{Msg: "Fetcher is not set"}
	}
	return nil
}
