// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentchat

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/docqa/pkg/conversation"
)

const (
	// MaxQueryBytes bounds the size of one user message.
	MaxQueryBytes = 32 * 1024

	// MaxContextPairs bounds how many prior pairs may be sent.
	MaxContextPairs = 20
)

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes limits a string by byte length rather than rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// ChatRequest is the JSON body posted to the streaming endpoint.
type ChatRequest struct {
	Query   string              `json:"query" validate:"required,maxbytes"`
	Context []conversation.Pair `json:"context" validate:"max=20,dive"`
}

// NewChatRequest builds a request. Context is never nil so that it
// encodes as [] rather than null.
func NewChatRequest(query string, pairs []conversation.Pair) ChatRequest {
	if pairs == nil {
		pairs = []conversation.Pair{}
	}
	return ChatRequest{Query: query, Context: pairs}
}

// Validate checks the request against its struct tags.
func (r ChatRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
