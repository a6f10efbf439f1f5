package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	verr := Validationf("name must not be empty")
	nferr := &NotFoundError{Entity: "group", ID: 7}

	if !IsValidation(verr) {
		t.Error("IsValidation should match ValidationError")
	}
	if IsValidation(nferr) {
		t.Error("IsValidation should not match NotFoundError")
	}
	if !IsNotFound(nferr) {
		t.Error("IsNotFound should match NotFoundError")
	}
	if IsNotFound(verr) {
		t.Error("IsNotFound should not match ValidationError")
	}

	// Classification survives %w wrapping.
	wrapped := fmt.Errorf("delete group: %w", nferr)
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should match through wrapping")
	}

	if nferr.Error() != "group 7 not found" {
		t.Errorf("Error() = %q", nferr.Error())
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("403 forbidden")
	perr := &ProviderError{KeyID: 3, Err: cause}

	if !errors.Is(perr, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
	if !IsProvider(perr) {
		t.Error("IsProvider should match ProviderError")
	}
	if IsValidation(perr) || IsNotFound(perr) {
		t.Error("ProviderError must not classify as validation or not-found")
	}
	if IsProvider(Validationf("nope")) {
		t.Error("IsProvider should not match ValidationError")
	}
}
