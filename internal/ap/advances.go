package ap

import (
	"fmt"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// AdvancePool holds the credits generated by past payment orders, in the
// order their source orders were confirmed.
type AdvancePool struct {
	advances []Advance
}

// RebuildAdvancePool derives the pool from the confirmed orders. Every order
// with a generated advance yields one advance keyed by the order ID; it is
// consumed by the first order that references it.
func RebuildAdvancePool(orders []PaymentOrder) AdvancePool {
	consumedBy := make(map[int64]int64)
	for _, o := range orders {
		for _, id := range o.AppliedAdvanceIDs {
			if _, ok := consumedBy[id]; !ok {
				consumedBy[id] = o.ID
			}
		}
	}
	pool := AdvancePool{}
	for _, o := range orders {
		if !o.GeneratedAdvance.IsPositive() {
			continue
		}
		adv := Advance{ID: o.ID, SourceOrderID: o.ID, Date: o.Date, Amount: o.GeneratedAdvance}
		if by, ok := consumedBy[o.ID]; ok {
			by := by
			adv.ConsumedBy = &by
		}
		pool.advances = append(pool.advances, adv)
	}
	return pool
}

// All returns consumed and unconsumed advances.
func (p AdvancePool) All() []Advance {
	return append([]Advance(nil), p.advances...)
}

// Available returns the unconsumed advances.
func (p AdvancePool) Available() []Advance {
	out := make([]Advance, 0, len(p.advances))
	for _, a := range p.advances {
		if !a.Consumed() {
			out = append(out, a)
		}
	}
	return out
}

// Credit is the sum of unconsumed advances.
func (p AdvancePool) Credit() money.Money {
	total := money.Zero()
	for _, a := range p.Available() {
		total = total.Add(a.Amount)
	}
	return total
}

func (p AdvancePool) find(id int64) (Advance, bool) {
	for _, a := range p.advances {
		if a.ID == id {
			return a, true
		}
	}
	return Advance{}, false
}

// Select sums the given available advances.
func (p AdvancePool) Select(ids []int64) (money.Money, error) {
	total := money.Zero()
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return money.Zero(), fmt.Errorf("advance %d: %w", id, ErrAdvanceAlreadyConsumed)
		}
		seen[id] = struct{}{}
		adv, ok := p.find(id)
		if !ok {
			return money.Zero(), fmt.Errorf("advance %d: %w", id, ErrAdvanceNotFound)
		}
		if adv.Consumed() {
			return money.Zero(), fmt.Errorf("advance %d: %w", id, ErrAdvanceAlreadyConsumed)
		}
		total = total.Add(adv.Amount)
	}
	return total, nil
}

// Consume marks the advances as used by orderID. Nothing changes on error.
func (p AdvancePool) Consume(ids []int64, orderID int64) (AdvancePool, error) {
	if _, err := p.Select(ids); err != nil {
		return p, err
	}
	consume := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		consume[id] = struct{}{}
	}
	out := AdvancePool{advances: make([]Advance, len(p.advances))}
	for i, a := range p.advances {
		if _, ok := consume[a.ID]; ok {
			by := orderID
			a.ConsumedBy = &by
		}
		out.advances[i] = a
	}
	return out, nil
}
