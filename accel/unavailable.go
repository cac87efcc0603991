//go:build !(accel && linux && amd64 && cgo)

package accel

import "context"

const available = false

func (r *Runner) run(context.Context) (string, error) {
	return "", ErrUnavailable
}
