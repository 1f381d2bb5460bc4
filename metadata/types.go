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

package metadata

import (
	"encoding/json"
	"sync"
	"time"
)

// Generic type constraint for the closed set of role payloads
type Roles interface {
	RootType | SnapshotType | TimestampType | TargetsType
}

// Define version of the TUF specification
const (
	SPECIFICATION_VERSION = "1.0.31"
)

// Define top level role names
const (
	ROOT      = "root"
	SNAPSHOT  = "snapshot"
	TARGETS   = "targets"
	TIMESTAMP = "timestamp"
)

// IPFS is the reserved Hashes key whose value is a target's content
// identifier. A CID is sufficient on its own for integrity verification,
// the content-addressed transport binds the bytes to the address.
const IPFS = "ipfs"

var TOP_LEVEL_ROLE_NAMES = []string{ROOT, TIMESTAMP, SNAPSHOT, TARGETS}

// Metadata is the signed envelope common to all four role payloads
type Metadata[T Roles] struct {
	Signed     T           `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

type Signature struct {
	KeyID     string   `json:"keyid"`
	Signature HexBytes `json:"sig"`
}

type RootType struct {
	Type               string           `json:"_type"`
	SpecVersion        string           `json:"spec_version"`
	ConsistentSnapshot bool             `json:"consistent_snapshot"`
	Version            int64            `json:"version"`
	Expires            time.Time        `json:"expires"`
	Keys               map[string]*Key  `json:"keys"`
	Roles              map[string]*Role `json:"roles"`
	Custom             json.RawMessage  `json:"custom,omitempty"`
}

type SnapshotType struct {
	Type        string                `json:"_type"`
	SpecVersion string                `json:"spec_version"`
	Version     int64                 `json:"version"`
	Expires     time.Time             `json:"expires"`
	Meta        map[string]*MetaFiles `json:"meta"`
	Custom      json.RawMessage       `json:"custom,omitempty"`
}

type TimestampType struct {
	Type        string                `json:"_type"`
	SpecVersion string                `json:"spec_version"`
	Version     int64                 `json:"version"`
	Expires     time.Time             `json:"expires"`
	Meta        map[string]*MetaFiles `json:"meta"`
	Custom      json.RawMessage       `json:"custom,omitempty"`
}

type TargetsType struct {
	Type        string                  `json:"_type"`
	SpecVersion string                  `json:"spec_version"`
	Version     int64                   `json:"version"`
	Expires     time.Time               `json:"expires"`
	Targets     map[string]*TargetFiles `json:"targets"`
	Custom      json.RawMessage         `json:"custom,omitempty"`
}

type Key struct {
	Type   string          `json:"keytype"`
	Scheme string          `json:"scheme"`
	Value  KeyVal          `json:"keyval"`
	Custom json.RawMessage `json:"custom,omitempty"`
	id     string
	idOnce sync.Once
}

type KeyVal struct {
	PublicKey string `json:"public"`
}

type Role struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

type HexBytes []byte

// Hashes maps an algorithm name to its value for a file. Legacy
// algorithms (sha256, sha512) carry lowercase hex digests, the
// reserved "ipfs" key carries the raw CID string.
type Hashes map[string]string

type MetaFiles struct {
	Length  int64           `json:"length,omitempty"`
	Hashes  Hashes          `json:"hashes,omitempty"`
	Version int64           `json:"version"`
	Custom  json.RawMessage `json:"custom,omitempty"`
}

type TargetFiles struct {
	Length int64           `json:"length,omitempty"`
	Hashes Hashes          `json:"hashes"`
	Custom json.RawMessage `json:"custom,omitempty"`
	Path   string          `json:"-"`
}
