// Package payment drives the on-chain charge that gates an analysis run:
// token approval, allowance verification, payment submission, confirmation.
// All flow state lives on the Machine; nothing is kept in package globals.
package payment

// State is the payment flow position. Error is reachable from every
// non-terminal state; Complete is terminal.
type State string

const (
	StateIdle                 State = "idle"
	StateApproving            State = "approving"
	StateAwaitingAllowance    State = "awaiting_allowance"
	StateReadyToPay           State = "ready_to_pay"
	StatePaying               State = "paying"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateComplete             State = "complete"
	StateError                State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete
}

// InFlight reports whether a payment transaction is currently being
// submitted or confirmed. A second payment request in these states is
// rejected outright.
func (s State) InFlight() bool {
	return s == StatePaying || s == StateAwaitingConfirmation
}
