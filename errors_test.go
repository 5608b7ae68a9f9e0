package rtkcore

import (
	"errors"
	"fmt"
	"testing"
)

func TestCoreErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("singular matrix")
	err := wrapErr(FilterNumericFailure, "ekfStep", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	var ce *CoreError
	if !errors.As(err, &ce) {
		t.Fatal("expected errors.As to recover the CoreError")
	}
	if ce.Kind != FilterNumericFailure {
		t.Fatalf("expected FilterNumericFailure, got %v", ce.Kind)
	}
}

func TestErrKindFatal(t *testing.T) {
	if !InputInvalid.Fatal() {
		t.Fatal("InputInvalid should be fatal")
	}
	if !FilterNumericFailure.Fatal() {
		t.Fatal("FilterNumericFailure should be fatal")
	}
	if GeometryRejected.Fatal() {
		t.Fatal("GeometryRejected should be recoverable")
	}
	if AmbiguityUnresolved.Fatal() {
		t.Fatal("AmbiguityUnresolved should be recoverable")
	}
	if BaselineConstraintRejected.Fatal() {
		t.Fatal("BaselineConstraintRejected should be recoverable")
	}
}
