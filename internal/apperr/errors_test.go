package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFrom_ClassifiesTypedErrors(t *testing.T) {
	orig := AuthRequired("")
	wrapped := fmt.Errorf("tool dispatch: %w", orig)

	got := From(wrapped)
	if got.Code != CodeAuthRequired {
		t.Errorf("Code = %s, want %s", got.Code, CodeAuthRequired)
	}
	if got.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", got.Status, http.StatusUnauthorized)
	}
}

func TestFrom_UnknownErrorBecomesInternal(t *testing.T) {
	got := From(errors.New("boom"))
	if got.Code != CodeInternal {
		t.Errorf("Code = %s, want %s", got.Code, CodeInternal)
	}
	if got.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", got.Status, http.StatusInternalServerError)
	}
	if got.Unwrap() == nil {
		t.Error("expected wrapped cause to be preserved")
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", TaskNotFound("p1", "t1"))
	if !Is(err, CodeTaskNotFound) {
		t.Error("Is() = false, want true for wrapped task-not-found")
	}
	if Is(err, CodeValidation) {
		t.Error("Is() = true for wrong code")
	}
}

func TestUpstreamAPI_DefaultStatus(t *testing.T) {
	if got := UpstreamAPI(0, "x").Status; got != http.StatusBadGateway {
		t.Errorf("Status = %d, want %d", got, http.StatusBadGateway)
	}
	if got := UpstreamAPI(404, "x").Status; got != 404 {
		t.Errorf("Status = %d, want 404", got)
	}
}

func TestTimeoutMapsToGatewayTimeout(t *testing.T) {
	if got := Timeout("token exchange").Status; got != http.StatusGatewayTimeout {
		t.Errorf("Status = %d, want %d", got, http.StatusGatewayTimeout)
	}
}
