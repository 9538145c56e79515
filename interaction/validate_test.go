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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	choices := []Choice{{Label: "Yes", Value: "y"}, {Label: "No", Value: "n"}}
	tests := []struct {
		name     string
		prompt   Prompt
		response any
		wantErr  bool
	}{
		{name: "optional empty", prompt: Prompt{Kind: KindText}, response: nil},
		{name: "required empty", prompt: Prompt{Kind: KindText, Rules: Rules{Required: true}}, response: "  ", wantErr: true},
		{name: "confirm bool", prompt: Prompt{Kind: KindConfirm}, response: true},
		{name: "confirm string", prompt: Prompt{Kind: KindConfirm}, response: "yes", wantErr: true},
		{name: "select ok", prompt: Prompt{Kind: KindSelect, Options: choices}, response: "y"},
		{name: "select unknown", prompt: Prompt{Kind: KindSelect, Options: choices}, response: "maybe", wantErr: true},
		{name: "select many single", prompt: Prompt{Kind: KindSelect, Options: choices}, response: []any{"y", "n"}, wantErr: true},
		{name: "select many multi", prompt: Prompt{Kind: KindSelect, Options: choices, MultiSelect: true}, response: []any{"y", "n"}},
		{name: "select numeric", prompt: Prompt{Kind: KindSelect, Options: []Choice{{Value: 1}}}, response: float64(1)},
		{name: "text too short", prompt: Prompt{Kind: KindText, Rules: Rules{MinLength: 3}}, response: "ab", wantErr: true},
		{name: "text too long", prompt: Prompt{Kind: KindText, Rules: Rules{MaxLength: 3}}, response: "abcd", wantErr: true},
		{name: "text pattern", prompt: Prompt{Kind: KindText, Rules: Rules{Pattern: `^\d+$`}}, response: "123"},
		{name: "text pattern miss", prompt: Prompt{Kind: KindText, Rules: Rules{Pattern: `^\d+$`}}, response: "12a", wantErr: true},
		{name: "text wrong type", prompt: Prompt{Kind: KindText}, response: 12, wantErr: true},
		{
			name: "form ok",
			prompt: Prompt{Kind: KindForm, Fields: []Field{
				{Name: "email", Required: true, Pattern: `@`},
				{Name: "plan", Options: []Choice{{Value: "free"}, {Value: "pro"}}},
			}},
			response: map[string]any{"email": "a@b", "plan": "pro"},
		},
		{
			name:     "form missing required",
			prompt:   Prompt{Kind: KindForm, Fields: []Field{{Name: "email", Required: true}}},
			response: map[string]any{"other": 1},
			wantErr:  true,
		},
		{
			name:     "form bad option",
			prompt:   Prompt{Kind: KindForm, Fields: []Field{{Name: "plan", Options: []Choice{{Value: "free"}}}}},
			response: map[string]any{"plan": "gold"},
			wantErr:  true,
		},
		{
			name:     "files ok",
			prompt:   Prompt{Kind: KindFileUpload, Rules: Rules{MaxFiles: 2, Accept: []string{".pdf"}}},
			response: []any{map[string]any{"name": "a.PDF"}},
		},
		{
			name:     "files too many",
			prompt:   Prompt{Kind: KindFileUpload, Rules: Rules{MaxFiles: 1}},
			response: []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
			wantErr:  true,
		},
		{
			name:     "files wrong type",
			prompt:   Prompt{Kind: KindFileUpload, Rules: Rules{Accept: []string{".pdf"}}},
			response: map[string]any{"name": "a.exe"},
			wantErr:  true,
		},
		{name: "custom anything", prompt: Prompt{Kind: KindCustom}, response: map[string]any{"x": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.prompt, tt.response)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidResponse))
		})
	}
}

func TestResponseErrorMessage(t *testing.T) {
	assert.Equal(t, "invalid response for email: is required", (&ResponseError{Field: "email", Reason: "is required"}).Error())
	assert.Equal(t, "invalid response: bad", (&ResponseError{Reason: "bad"}).Error())
}
