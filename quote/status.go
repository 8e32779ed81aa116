package quote

// Status is the wire value of a quote's lifecycle state. Values outside the
// known set are carried through untouched and treated as non-terminal.
type Status string

const (
	StatusOpen                Status = "open"
	StatusResponded           Status = "responded"
	StatusAccepted            Status = "accepted"
	StatusAwaitingPickup      Status = "awaiting_pickup"
	StatusInTransit           Status = "in_transit"
	StatusAwaitingCTeApproval Status = "awaiting_cte_approval"
	StatusFinalized           Status = "finalized"
	StatusReturned            Status = "returned"
)

var allowedStatusTransition = map[Status][]Status{
	StatusOpen:                {StatusResponded, StatusAccepted},
	StatusResponded:           {StatusAccepted},
	StatusAccepted:            {StatusAwaitingPickup, StatusInTransit, StatusReturned},
	StatusAwaitingPickup:      {StatusInTransit, StatusReturned},
	StatusInTransit:           {StatusAwaitingCTeApproval, StatusFinalized, StatusReturned},
	StatusAwaitingCTeApproval: {StatusInTransit, StatusReturned},
	StatusFinalized:           {},
	StatusReturned:            {},
}

// Statuses lists every known status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusOpen,
		StatusResponded,
		StatusAccepted,
		StatusAwaitingPickup,
		StatusInTransit,
		StatusAwaitingCTeApproval,
		StatusFinalized,
		StatusReturned,
	}
}

func (s Status) Known() bool {
	_, ok := allowedStatusTransition[s]
	return ok
}

// Terminal reports whether no cargo transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusReturned
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func (s Status) CanTransition(to Status) bool {
	for _, next := range allowedStatusTransition[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Bidding reports whether carriers may still respond.
func (s Status) Bidding() bool {
	return s == StatusOpen || s == StatusResponded
}

// Shipping reports whether the cargo is on the in-transit track, including
// a pending transport document decision.
func (s Status) Shipping() bool {
	return s == StatusInTransit || s == StatusAwaitingCTeApproval
}
