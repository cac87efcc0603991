package sandbox

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrInvalidParam is returned for parameters that cannot be represented as
// environment variables.
var ErrInvalidParam = errors.New("invalid parameter")

// EnvVar is one environment variable injected into a guest.
type EnvVar struct {
	Key   string
	Value string
}

// EnvFromParams converts a parameter map into environment variables sorted
// by key. Keys must be non-empty and contain neither '=' nor NUL; values
// must not contain NUL.
func EnvFromParams(params map[string]string) ([]EnvVar, error) {
	env := make([]EnvVar, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		v := params[k]
		switch {
		case k == "":
			return nil, fmt.Errorf("%w: empty key", ErrInvalidParam)
		case strings.ContainsAny(k, "=\x00"):
			return nil, fmt.Errorf("%w: key %q contains '=' or NUL", ErrInvalidParam, k)
		case strings.ContainsRune(v, 0):
			return nil, fmt.Errorf("%w: value of %q contains NUL", ErrInvalidParam, k)
		}
		env = append(env, EnvVar{Key: k, Value: v})
	}
	return env, nil
}
