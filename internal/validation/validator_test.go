// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

package validation

import (
	"errors"
	"strings"
	"testing"
)

type sampleRequest struct {
	UserID string `validate:"required,max=128"`
	Type   string `validate:"required,oneof=view click purchase"`
	K      int    `validate:"min=1,max=100"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct passes", func(t *testing.T) {
		req := sampleRequest{UserID: "u1", Type: "view", K: 10}
		if err := ValidateStruct(&req); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing required field", func(t *testing.T) {
		req := sampleRequest{Type: "view", K: 10}
		err := ValidateStruct(&req)
		if err == nil {
			t.Fatal("expected error")
		}
		var verrs *Errors
		if !errors.As(err, &verrs) {
			t.Fatalf("expected *Errors, got %T", err)
		}
		if len(verrs.Fields) != 1 || verrs.Fields[0].Field != "UserID" {
			t.Errorf("unexpected fields: %+v", verrs.Fields)
		}
		if !strings.Contains(err.Error(), "UserID is required") {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})

	t.Run("oneof violation", func(t *testing.T) {
		req := sampleRequest{UserID: "u1", Type: "impression", K: 10}
		err := ValidateStruct(&req)
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "must be one of") {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})

	t.Run("range violations collected together", func(t *testing.T) {
		req := sampleRequest{K: 101}
		err := ValidateStruct(&req)
		if err == nil {
			t.Fatal("expected error")
		}
		var verrs *Errors
		if !errors.As(err, &verrs) {
			t.Fatalf("expected *Errors, got %T", err)
		}
		if len(verrs.Fields) != 3 {
			t.Errorf("expected 3 field errors, got %d: %v", len(verrs.Fields), err)
		}
	})
}
