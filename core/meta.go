// Licensed to sjy-dv under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. sjy-dv licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package core

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ModelMeta is the advisory sidecar written next to every saved model.
// The binary itself stays byte-compatible with the reference format;
// anything extra lives here.
type ModelMeta struct {
	RunID     string    `msgpack:"run_id"`
	SavedAt   time.Time `msgpack:"saved_at"`
	Args      string    `msgpack:"args"`
	Loss      float32   `msgpack:"loss"`
	NTokens   int64     `msgpack:"ntokens"`
	NWords    int32     `msgpack:"nwords"`
	NLabels   int32     `msgpack:"nlabels"`
	Quantized bool      `msgpack:"quantized"`
}

func metaPath(modelPath string) string {
	return modelPath + ".meta"
}

func (ft *FastText) writeMeta(modelPath string) error {
	meta := ModelMeta{
		RunID:     uuid.NewString(),
		SavedAt:   time.Now().UTC(),
		Args:      ft.args.String(),
		Loss:      ft.model.Loss(),
		NTokens:   ft.dict.NTokens(),
		NWords:    ft.dict.NWords(),
		NLabels:   ft.dict.NLabels(),
		Quantized: ft.model.IsQuant(),
	}
	payload, err := msgpack.Marshal(&meta)
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath(modelPath), payload, 0o644)
}

// readMeta returns the sidecar if present; a missing or unreadable
// sidecar is not an error.
func readMeta(modelPath string) (*ModelMeta, error) {
	payload, err := os.ReadFile(metaPath(modelPath))
	if err != nil {
		return nil, nil
	}
	var meta ModelMeta
	if err := msgpack.Unmarshal(payload, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
