package ap

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// CheckFilter narrows the custody view. Nil bounds are open.
type CheckFilter struct {
	Text      string       `json:"text"`
	MinAmount *money.Money `json:"min_amount"`
	MaxAmount *money.Money `json:"max_amount"`
	DueFrom   *time.Time   `json:"due_from"`
	DueTo     *time.Time   `json:"due_to"`
}

// Match reports whether the check passes the filter.
func (f CheckFilter) Match(c ThirdPartyCheck) bool {
	if text := strings.ToLower(strings.TrimSpace(f.Text)); text != "" {
		haystack := strings.ToLower(c.Number + " " + c.Bank + " " + c.HolderName)
		if !strings.Contains(haystack, text) {
			return false
		}
	}
	if f.MinAmount != nil && c.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && c.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.DueFrom != nil && c.DueDate.Before(dateOf(*f.DueFrom)) {
		return false
	}
	if f.DueTo != nil && c.DueDate.After(dateOf(*f.DueTo)) {
		return false
	}
	return true
}

// CheckView is one row of the custody view.
type CheckView struct {
	ThirdPartyCheck
	Selected bool `json:"selected"`
}

// Custody is the pool of third-party checks not yet handed to a supplier.
type Custody struct {
	checks []ThirdPartyCheck
}

// NewCustody copies the checks.
func NewCustody(checks []ThirdPartyCheck) Custody {
	return Custody{checks: append([]ThirdPartyCheck(nil), checks...)}
}

// All returns every check in custody.
func (c Custody) All() []ThirdPartyCheck {
	return append([]ThirdPartyCheck(nil), c.checks...)
}

// Filter returns the matching checks.
func (c Custody) Filter(f CheckFilter) []ThirdPartyCheck {
	out := make([]ThirdPartyCheck, 0, len(c.checks))
	for _, chk := range c.checks {
		if f.Match(chk) {
			out = append(out, chk)
		}
	}
	return out
}

// Select sums the given checks regardless of any filter.
func (c Custody) Select(ids []int64) (money.Money, error) {
	total := money.Zero()
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		chk, ok := c.find(id)
		if !ok {
			return money.Zero(), fmt.Errorf("check %d: %w", id, ErrCheckAlreadyConsumed)
		}
		total = total.Add(chk.Amount)
	}
	return total, nil
}

// View lists the checks for display. Selected checks stay visible when
// onlySelected is set, whether or not they match the filter.
func (c Custody) View(f CheckFilter, selected []int64, onlySelected bool) []CheckView {
	sel := make(map[int64]struct{}, len(selected))
	for _, id := range selected {
		sel[id] = struct{}{}
	}
	out := make([]CheckView, 0, len(c.checks))
	for _, chk := range c.checks {
		_, isSel := sel[chk.ID]
		if onlySelected {
			if !isSel {
				continue
			}
		} else if !f.Match(chk) {
			continue
		}
		out = append(out, CheckView{ThirdPartyCheck: chk, Selected: isSel})
	}
	return out
}

// Consume removes the checks handed over by orderID.
func (c Custody) Consume(ids []int64, orderID int64) (Custody, error) {
	if _, err := c.Select(ids); err != nil {
		return c, fmt.Errorf("payment order %d: %w", orderID, err)
	}
	return c.without(ids), nil
}

func (c Custody) find(id int64) (ThirdPartyCheck, bool) {
	for _, chk := range c.checks {
		if chk.ID == id {
			return chk, true
		}
	}
	return ThirdPartyCheck{}, false
}

// without removes checks silently; a projected order's checks may already be
// gone after a re-pull.
func (c Custody) without(ids []int64) Custody {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := Custody{checks: make([]ThirdPartyCheck, 0, len(c.checks))}
	for _, chk := range c.checks {
		if _, ok := drop[chk.ID]; !ok {
			out.checks = append(out.checks, chk)
		}
	}
	return out
}
