// Package api
// Author: momentics <momentics@gmail.com>
//
// Descriptor callback contract for the multi-group epoll reactor.
// One callback is owned by exactly one registered descriptor; the reactor
// releases it when Events reports the registration dead.

package api

// Callback is the polymorphic handle attached to a registered descriptor.
//
// Lifecycle: allocated by the producer, handed to the reactor on AddFD.
// SetFD runs once before registration, FDRegistered once after it
// succeeds. For every readiness batch PreEvents runs for each event of the
// batch before any Events dispatch, so implementations may take references
// covering the whole batch. Events returning false releases the callback.
type Callback interface {
	// SetFD records the descriptor. Called once, before registration.
	SetFD(fd int)

	// FDRegistered runs after the descriptor entered the interest set.
	// Used for resource reclaim accounting.
	FDRegistered()

	// PreEvents runs once per event before the batch is dispatched.
	PreEvents()

	// Events handles a readiness mask. index counts non-notifier events of
	// the batch in dispatch order, total is the batch size. Returning
	// false tells the reactor to drop the registration and release the
	// callback.
	Events(events uint32, index, total int) bool

	// Send pushes data toward the peer. Optional; returns false when the
	// implementation has no send path.
	Send(data []byte) bool

	// Release frees callback resources. Called by the reactor after
	// Events returns false, or by the owner after an explicit DelFD.
	Release()
}

// CallbackBase provides no-op defaults for the optional Callback hooks.
// Embed it and implement SetFD and Events.
type CallbackBase struct{}

func (CallbackBase) FDRegistered()         {}
func (CallbackBase) PreEvents()            {}
func (CallbackBase) Send(data []byte) bool { return false }
func (CallbackBase) Release()              {}
