package domain

// RequestStatus is the money request lifecycle state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestOnHold   RequestStatus = "on_hold"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending: {RequestApproved, RequestRejected, RequestOnHold},
	RequestOnHold:  {RequestApproved, RequestRejected},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func (from RequestStatus) CanTransition(to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// PaymentStatus is the internal crypto payment vocabulary.
type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "PENDING"
	PaymentProcessing   PaymentStatus = "PROCESSING"
	PaymentCompleted    PaymentStatus = "COMPLETED"
	PaymentUnderpayment PaymentStatus = "UNDERPAYMENT"
	PaymentOverpayment  PaymentStatus = "OVERPAYMENT"
	PaymentFailed       PaymentStatus = "FAILED"
	PaymentCancelled    PaymentStatus = "CANCELLED"
)

// Creditable reports whether s authorizes exactly one wallet credit.
func (s PaymentStatus) Creditable() bool {
	switch s {
	case PaymentCompleted, PaymentUnderpayment, PaymentOverpayment:
		return true
	}
	return false
}

// Terminal reports whether s is a final provider outcome.
func (s PaymentStatus) Terminal() bool {
	return s.Creditable() || s == PaymentFailed || s == PaymentCancelled
}

// Rank orders statuses so they only move forward.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentPending:
		return 0
	case PaymentProcessing:
		return 1
	default:
		return 2
	}
}
