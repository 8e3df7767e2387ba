package common

import "fmt"

// MaskSecret masks sensitive strings for safe logging: first and last
// four characters for long values, "***" for short ones, "<not set>"
// for empty ones.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Must panics if err is not nil, otherwise returns value. For
// initialization code that should fail fast.
func Must[T any](value T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("Must: operation failed: %v", err))
	}
	return value
}

// MustNoError panics if err is not nil.
func MustNoError(err error) {
	if err != nil {
		panic(fmt.Sprintf("MustNoError: operation failed: %v", err))
	}
}

// Ptr returns a pointer to v, for initializing pointer fields inline.
func Ptr[T any](v T) *T {
	return &v
}

// PtrValue returns the value behind ptr, or the zero value if nil.
func PtrValue[T any](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}
