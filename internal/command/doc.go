// Package command implements the actuator command queue.
//
// A command moves through a strict lifecycle: pending, claimed to
// in_flight by exactly one dispatcher, then resolved to executed or
// failed. Failed commands can return to pending until their retry
// budget is spent; pending commands can be cancelled. Every transition
// is enforced with conditional updates in the store, so concurrent
// claimers can never double-execute a command.
//
// The Queue service adds validation, defaults, and failure
// notification on top of the Store. Commands issued by the core itself
// carry issuer "system" and are distinguishable from operator commands
// in history views.
package command
