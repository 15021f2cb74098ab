package configval

import (
	"context"
	"os"
	"testing"
)

func TestResolve_Literal(t *testing.T) {
	t.Parallel()

	v, ok, err := Resolve(context.Background(), "plain-value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != "plain-value" {
		t.Errorf("got (%q, %v), want (%q, true)", v, ok, "plain-value")
	}
}

func TestResolve_EnvVar(t *testing.T) {
	t.Parallel()

	os.Setenv("CONFIGVAL_TEST_VAR", "hello")
	defer os.Unsetenv("CONFIGVAL_TEST_VAR")

	v, ok, err := Resolve(context.Background(), "$CONFIGVAL_TEST_VAR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != "hello" {
		t.Errorf("got (%q, %v), want (%q, true)", v, ok, "hello")
	}
}

func TestResolve_EnvVar_Missing(t *testing.T) {
	t.Parallel()

	v, ok, err := Resolve(context.Background(), "$CONFIGVAL_DOES_NOT_EXIST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || v != "" {
		t.Errorf("got (%q, %v), want (\"\", false)", v, ok)
	}
}

func TestResolve_Shell(t *testing.T) {
	t.Parallel()
	ClearCache()

	v, ok, err := Resolve(context.Background(), "!echo hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != "hi" {
		t.Errorf("got (%q, %v), want (%q, true)", v, ok, "hi")
	}
}

func TestResolve_Shell_Blank(t *testing.T) {
	t.Parallel()
	ClearCache()

	v, ok, err := Resolve(context.Background(), "!echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || v != "" {
		t.Errorf("got (%q, %v), want (\"\", false) for blank stdout", v, ok)
	}
}

func TestResolve_Shell_Cached(t *testing.T) {
	t.Parallel()
	ClearCache()

	const cmd = "!echo $RANDOM_MARKER_NOT_SET_BUT_STABLE"
	first, _, err := Resolve(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _, err := Resolve(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected cached result to be stable: %q != %q", first, second)
	}
	if _, found := cache.Load("echo $RANDOM_MARKER_NOT_SET_BUT_STABLE"); !found {
		t.Error("expected command to be memoized in cache")
	}
}
