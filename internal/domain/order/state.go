package order

// OrderState implements the state pattern for order lifecycle transitions.
// Re-entering the current state is accepted so that redelivered events stay
// harmless; every other move out of a terminal state is rejected.
type OrderState interface {
	Status() Status
	OnPaid(o *Order) (OrderState, error)
	OnFailed(o *Order, reason string) (OrderState, error)
	OnCancelled(o *Order, reason string) (OrderState, error)
}

func stateFor(s Status) OrderState {
	switch s {
	case StatusPaid:
		return paidState{}
	case StatusFailed:
		return failedState{}
	case StatusCancelled:
		return cancelledState{}
	default:
		return orderedState{}
	}
}

// State returns the lifecycle state for the order's current status.
func (o *Order) State() OrderState { return stateFor(o.Status) }

// MarkPaid moves the order to PAID. It reports whether the status changed.
func (o *Order) MarkPaid() (bool, error) {
	return o.apply(func(s OrderState) (OrderState, error) { return s.OnPaid(o) })
}

func (o *Order) MarkFailed(reason string) (bool, error) {
	return o.apply(func(s OrderState) (OrderState, error) { return s.OnFailed(o, reason) })
}

func (o *Order) MarkCancelled(reason string) (bool, error) {
	return o.apply(func(s OrderState) (OrderState, error) { return s.OnCancelled(o, reason) })
}

func (o *Order) apply(fn func(OrderState) (OrderState, error)) (bool, error) {
	cur := o.State()
	next, err := fn(cur)
	if err != nil {
		return false, err
	}
	if next.Status() == cur.Status() {
		return false, nil
	}
	o.Status = next.Status()
	o.touch()
	return true, nil
}

type orderedState struct{}

func (orderedState) Status() Status { return StatusOrdered }

func (orderedState) OnPaid(o *Order) (OrderState, error) {
	o.FailureReason = ""
	return paidState{}, nil
}

func (orderedState) OnFailed(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return failedState{}, nil
}

func (orderedState) OnCancelled(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return cancelledState{}, nil
}

type paidState struct{}

func (paidState) Status() Status { return StatusPaid }

func (paidState) OnPaid(*Order) (OrderState, error) { return paidState{}, nil }

func (paidState) OnFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

// A settled payment can still be cancelled by the PG afterwards.
func (paidState) OnCancelled(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return cancelledState{}, nil
}

type failedState struct{}

func (failedState) Status() Status { return StatusFailed }

func (failedState) OnPaid(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (failedState) OnFailed(*Order, string) (OrderState, error) { return failedState{}, nil }

func (failedState) OnCancelled(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type cancelledState struct{}

func (cancelledState) Status() Status { return StatusCancelled }

func (cancelledState) OnPaid(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (cancelledState) OnFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (cancelledState) OnCancelled(*Order, string) (OrderState, error) { return cancelledState{}, nil }
