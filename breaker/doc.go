// Package breaker implements a circuit breaker whose state lives in a
// kvstore.Store, so that stateless callers sharing the store share the
// circuit.
//
// A circuit is CLOSED until FailureThreshold failures are recorded, then
// OPEN. There is no timer: OPEN becomes HALF_OPEN on read, once RecoveryTime
// has passed since the last failure. A success while HALF_OPEN closes the
// circuit and a failure reopens it for a full recovery period.
//
// Updates are read-modify-write against the store and are not linearizable;
// concurrent failures can be lost. Persisted state expires after twice the
// recovery time, which returns an idle circuit to CLOSED.
package breaker
