package executor

import "time"

// Observer is notified around every invocation. Implementations must be
// safe for concurrent use.
type Observer interface {
	InvocationStarted(runtime string)
	// InvocationFinished reports the outcome: "ok" or the failure Kind.
	InvocationFinished(runtime, outcome string, d time.Duration, outputBytes int)
}

type nopObserver struct{}

func (nopObserver) InvocationStarted(string)                              {}
func (nopObserver) InvocationFinished(string, string, time.Duration, int) {}
