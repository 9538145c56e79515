//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package interaction

import (
	"encoding/json"
	"fmt"
)

// Encode serialises s for storage backends.
func Encode(s *State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode interaction %s: %w", s.ID, err)
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode interaction: %w", err)
	}
	return &s, nil
}
