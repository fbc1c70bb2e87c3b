//go:build !whispercpp

package whisper

import "fmt"

// NativeAvailable reports whether this binary links whisper.cpp.
const NativeAvailable = false

func NewNativeEngine(Config) (Engine, error) {
	return nil, fmt.Errorf("%w: native whisper.cpp support is disabled in this build (rebuild with -tags whispercpp)", ErrEngineUnavailable)
}
