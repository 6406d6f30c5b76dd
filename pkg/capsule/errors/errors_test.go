package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "full error",
			err:      New("class.create", KindConstructionFailed).Subject("widget.factory").Detail("factory returned %d", 3).Cause(errors.New("boom")).Build(),
			contains: []string{"[class.create]", "construction_failed", `"widget.factory"`, "factory returned 3", "caused by: boom"},
		},
		{
			name:     "minimal error",
			err:      &Error{Kind: KindLocked},
			contains: []string{"locked"},
		},
		{
			name:     "version mismatch helper",
			err:      VersionMismatch("object.query", "iWidget", "2.0.0", "1.0.0"),
			contains: []string{"version_mismatch", "iWidget", "implements 2.0.0, requested 1.0.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := NotFound("class.create", "missing.class")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected NotFound to match sentinel")
	}
	if errors.Is(err, ErrNotImplemented) {
		t.Error("NotFound must not match NotImplemented")
	}
	if !errors.Is(err, &Error{Op: "class.create", Kind: KindNotFound}) {
		t.Error("expected match with same op")
	}
	if errors.Is(err, &Error{Op: "event.retrieve", Kind: KindNotFound}) {
		t.Error("expected no match with different op")
	}

	wrapped := ConstructionFailed("class.create", "x", err)
	if !errors.Is(wrapped, ErrConstructionFailed) || !errors.Is(wrapped, ErrNotFound) {
		t.Error("expected wrapped error to match both kinds")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Locked("event.add", "x")); got != KindLocked {
		t.Errorf("KindOf() = %s, want %s", got, KindLocked)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestBuilder_BuildCopies(t *testing.T) {
	b := New("op", KindNotFound).Subject("a")
	first := b.Build()
	b.Subject("b")
	if first.Subject != "a" {
		t.Errorf("Build must snapshot, got subject %q", first.Subject)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"not implemented", NotImplemented("q", "i"), CategoryExpected},
		{"not found", NotFound("q", "c"), CategoryExpected},
		{"version mismatch", &Error{Kind: KindVersionMismatch}, CategoryExpected},
		{"locked", Locked("event.add", "x"), CategoryContract},
		{"refcount misuse", &Error{Kind: KindRefCountMisuse}, CategoryContract},
		{"construction failed", ConstructionFailed("c", "x", errors.New("bad")), CategoryPermanent},
		{"transient cause", ConstructionFailed("c", "x", Transient(errors.New("busy"), "dial")), CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"unknown", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryExpected, "expected"},
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{CategoryContract, "contract"},
		{Category(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
		}
	}
}

func TestWithRetryContext(t *testing.T) {
	fast := NewRetryConfig(WithInitialBackoff(time.Millisecond), WithJitter(0))

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), fast, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", Transient(errors.New("busy"), "factory")
			}
			return "ok", nil
		})
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Value != "ok" || result.Attempts != 3 {
			t.Errorf("got value %q after %d attempts", result.Value, result.Attempts)
		}
	})

	t.Run("stops on expected outcome", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			calls++
			return 0, NotFound("class.create", "nope")
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if !errors.Is(result.Err, ErrNotFound) {
			t.Errorf("expected NotFound to survive wrapping, got %v", result.Err)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		result := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			return 0, Transient(errors.New("busy"), "")
		})
		if result.Attempts != fast.MaxAttempts {
			t.Errorf("expected %d attempts, got %d", fast.MaxAttempts, result.Attempts)
		}
		var cat *CategorizedError
		if !errors.As(result.Err, &cat) || cat.Context != "max retries exceeded" {
			t.Errorf("expected exhausted error, got %v", result.Err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := WithRetryContext(ctx, fast, func(context.Context) (int, error) {
			t.Fatal("fn must not run")
			return 0, nil
		})
		if !errors.Is(result.Err, context.Canceled) || result.Attempts != 0 {
			t.Errorf("expected cancellation before first attempt, got %v after %d", result.Err, result.Attempts)
		}
	})
}
