package event

import "MarketLedger/internal/ledger"

// Maintenance expires orders, executes due force settlements and advances
// a running deflation.
type Maintenance struct {
	Header
}

func (m *Maintenance) EventType() EventType {
	return EventTypeMaintenance
}

// DeflationStart opens a toll window over every order created so far.
// Rate is scaled by 1e8.
type DeflationStart struct {
	Header
	Issuer ledger.AccountID `json:"issuer"`
	Rate   int64            `json:"rate"`
}

func (d *DeflationStart) EventType() EventType {
	return EventTypeDeflationStart
}
