package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeSignatureInvalid, http.StatusBadRequest},
		{CodeIdempotency, http.StatusConflict},
		{CodeInProgress, http.StatusConflict},
		{CodeStateConflict, http.StatusUnprocessableEntity},
		{CodeNotFound, http.StatusNotFound},
		{CodeInternal, http.StatusInternalServerError},
		{CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("code %s: expected status %d, got %d", tc.code, tc.status, got)
		}
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOT_A_CODE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "publish job")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsUnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(CodeInProgress, "still processing")
	outer := fmt.Errorf("claim: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatalf("expected typed error")
	}
	if typed.Code() != CodeInProgress {
		t.Fatalf("expected in-progress code, got %s", typed.Code())
	}
}

func TestDiagnoseWalksChain(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := fmt.Errorf("query tenants: %w", Wrap(CodeDependency, cause, "load tenant"))

	d := Diagnose(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", d.Code)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full cause chain, got %v", d.Chain)
	}

	fields := d.Fields()
	if fields["error_code"] != string(CodeDependency) {
		t.Fatalf("expected error_code field, got %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("expected no pg fields for a non-driver error")
	}
}

func TestDiagnoseNil(t *testing.T) {
	if d := Diagnose(nil); d.TopMessage != "" || len(d.Fields()) != 0 {
		t.Fatalf("expected empty diagnosis for nil error")
	}
}

func TestNilErrorAccessors(t *testing.T) {
	var err *Error
	if err.Code() != CodeInternal {
		t.Fatalf("expected internal code for nil error")
	}
	if err.Message() != "" || err.Details() != nil {
		t.Fatalf("expected empty accessors for nil error")
	}
}
