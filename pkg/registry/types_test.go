package registry

import (
	"errors"
	"testing"
)

func TestRegistryError(t *testing.T) {
	err := NewRegistryError(CodeNotFound, "namespace \"lambda\" is not loaded")

	if err.Code != CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", err.Code)
	}
	if err.Error() != `NOT_FOUND: namespace "lambda" is not loaded` {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestRegistryError_Unwrap(t *testing.T) {
	cause := errors.New("toml: line 3")
	err := &RegistryError{Code: CodeLoadFailed, Message: "load failed", cause: cause}

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to reach the cause")
	}
	var regErr *RegistryError
	if !errors.As(error(err), &regErr) || regErr.Code != CodeLoadFailed {
		t.Errorf("expected errors.As to find the registry error")
	}
}
