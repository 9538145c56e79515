//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes the node's loosely typed config into out, a pointer
// to a struct tagged with json names. Scalars are converted where the
// conversion is unambiguous ("3" -> 3, 1 -> true).
func DecodeConfig(n *Node, out any) error {
	if len(n.Config) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(n.Config); err != nil {
		return fmt.Errorf("invalid config for node %s (%s): %w", n.ID, n.Type, err)
	}
	return nil
}
