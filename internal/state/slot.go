package state

import (
	"time"

	"trendline-core/pkg/exchanges/common"
)

// SlotStatus is the lifecycle of one tracked broker order.
type SlotStatus string

const (
	SlotNone      SlotStatus = "NONE"
	SlotSubmitted SlotStatus = "SUBMITTED"
	SlotFilled    SlotStatus = "FILLED"
	SlotCancelled SlotStatus = "CANCELLED"
	SlotRejected  SlotStatus = "REJECTED"
)

// Terminal reports whether the slot can no longer change.
func (s SlotStatus) Terminal() bool {
	return s == SlotFilled || s == SlotCancelled || s == SlotRejected
}

// SlotKind is the role of the order a slot tracks.
type SlotKind string

const (
	SlotEntry    SlotKind = "entry"
	SlotExit     SlotKind = "exit"
	SlotStopLoss SlotKind = "stop_loss"
)

// Slot tracks the single live order of one role: an entry line, an exit
// line or the stop-loss. A slot holds at most one non-terminal order.
type Slot struct {
	Kind        SlotKind         `json:"kind"`
	LineID      string           `json:"line_id,omitempty"`
	OrderID     string           `json:"order_id,omitempty"`
	ClientID    string           `json:"client_id,omitempty"`
	Status      SlotStatus       `json:"status"`
	Type        common.OrderType `json:"type,omitempty"`
	Price       float64          `json:"price,omitempty"` // zero for market orders
	Quantity    float64          `json:"quantity"`
	FilledQty   float64          `json:"filled_qty,omitempty"`
	FillPrice   float64          `json:"fill_price,omitempty"`
	Attempts    int              `json:"attempts"`
	SubmittedAt time.Time        `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at,omitempty"`
}

// NewSlot returns an empty slot for a role.
func NewSlot(kind SlotKind, lineID string) *Slot {
	return &Slot{Kind: kind, LineID: lineID, Status: SlotNone}
}

// Live reports whether the slot holds a working order.
func (s *Slot) Live() bool {
	return s != nil && s.Status == SlotSubmitted
}

// MarkSubmitted records a new working order on the slot.
func (s *Slot) MarkSubmitted(orderID, clientID string, typ common.OrderType, price, qty float64, now time.Time) {
	s.OrderID = orderID
	s.ClientID = clientID
	s.Status = SlotSubmitted
	s.Type = typ
	s.Price = price
	s.Quantity = qty
	s.FilledQty = 0
	s.FillPrice = 0
	s.Attempts++
	s.SubmittedAt = now
	s.UpdatedAt = now
}

// MarkFilled settles the slot with the broker-reported execution.
func (s *Slot) MarkFilled(qty, price float64, now time.Time) {
	s.Status = SlotFilled
	s.FilledQty = qty
	s.FillPrice = price
	s.UpdatedAt = now
}

// Settle moves the slot to a terminal status other than filled.
func (s *Slot) Settle(status SlotStatus, now time.Time) {
	s.Status = status
	s.UpdatedAt = now
}

// SlotFromOrderStatus maps a broker status onto the slot lifecycle.
// Working statuses map to SUBMITTED.
func SlotFromOrderStatus(st common.OrderStatus) SlotStatus {
	switch st {
	case common.StatusFilled:
		return SlotFilled
	case common.StatusCanceled, common.StatusExpired:
		return SlotCancelled
	case common.StatusRejected:
		return SlotRejected
	}
	return SlotSubmitted
}
