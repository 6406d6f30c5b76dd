package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category says how a caller should react to an error.
type Category int

const (
	// CategoryExpected is an ordinary discovery outcome, such as an
	// interface the object does not implement.
	CategoryExpected Category = iota
	// CategoryTransient may succeed when tried again.
	CategoryTransient
	// CategoryPermanent will fail the same way again.
	CategoryPermanent
	// CategoryContract is caller misuse, such as mutating a dispatched event.
	CategoryContract
)

var categoryNames = [...]string{
	CategoryExpected:  "expected",
	CategoryTransient: "transient",
	CategoryPermanent: "permanent",
	CategoryContract:  "contract",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// kindCategory maps error kinds that are not permanent.
var kindCategory = map[Kind]Category{
	KindNotImplemented:     CategoryExpected,
	KindNotFound:           CategoryExpected,
	KindVersionMismatch:    CategoryExpected,
	KindRefCountMisuse:     CategoryContract,
	KindLocked:             CategoryContract,
	KindDuplicateAttribute: CategoryContract,
	KindInvalidArgument:    CategoryContract,
	KindTypeMismatch:       CategoryContract,
	KindLossy:              CategoryContract,
}

// CategorizedError pins a category on an error.
type CategorizedError struct {
	Err      error
	Category Category
	Retries  int    // attempts made before giving up
	Context  string // what was being attempted
}

func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%v (category: %s, attempts: %d)", e.Err, e.Category, e.Retries)
	if e.Context == "" {
		return msg
	}
	return e.Context + ": " + msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient marks err as worth retrying. A factory returns it when
// construction may succeed later.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Categorize classifies err. An explicit CategorizedError anywhere in the
// chain wins, so a transient cause inside ConstructionFailed stays
// transient. Nil and unrecognized errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	case errors.Is(err, context.Canceled):
		return CategoryPermanent
	}
	if c, ok := kindCategory[KindOf(err)]; ok {
		return c
	}
	return CategoryPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
