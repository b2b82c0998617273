package models

import "checkout-service/internal/apperr"

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusProcessing:
		return 1
	default:
		return 2
	}
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

// CheckStatusTransition validates from -> to on the fulfilment axis.
// Same value is a no-op; terminal states accept nothing else; no step backwards.
func CheckStatusTransition(from, to OrderStatus) (noop bool, err error) {
	if !to.Valid() {
		return false, apperr.Validation("unknown order status %q", to)
	}
	if from == to {
		return true, nil
	}
	if from.IsTerminal() {
		return false, apperr.InvalidTransition("order is %s and cannot become %s", from, to)
	}
	if to != OrderStatusCancelled && to.rank() < from.rank() {
		return false, apperr.InvalidTransition("order cannot move back from %s to %s", from, to)
	}
	return false, nil
}

// CheckPaymentTransition validates from -> to on the payment axis. paid is sticky,
// and nothing returns to pending.
func CheckPaymentTransition(from, to PaymentStatus) (noop bool, err error) {
	if !to.Valid() {
		return false, apperr.Validation("unknown payment status %q", to)
	}
	if from == to {
		return true, nil
	}
	if from == PaymentStatusPaid {
		return false, apperr.InvalidTransition("payment is already paid and cannot become %s", to)
	}
	if to == PaymentStatusPending {
		return false, apperr.InvalidTransition("payment cannot return to pending from %s", from)
	}
	return false, nil
}

// Apply mutates o towards the requested statuses. An empty target leaves that axis alone.
// Returns whether anything changed; on error o is untouched.
func (o *Order) Apply(status OrderStatus, payment PaymentStatus) (bool, error) {
	statusNoop, paymentNoop := true, true
	var err error
	if status != "" {
		if statusNoop, err = CheckStatusTransition(o.Status, status); err != nil {
			return false, err
		}
	}
	if payment != "" {
		if paymentNoop, err = CheckPaymentTransition(o.PaymentStatus, payment); err != nil {
			return false, err
		}
	}
	if !statusNoop {
		o.Status = status
	}
	if !paymentNoop {
		o.PaymentStatus = payment
	}
	return !statusNoop || !paymentNoop, nil
}
