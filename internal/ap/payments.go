package ap

import (
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/supplier-ledger/internal/money"
)

// Ingest collapses records sharing a dedup identity, keeping the first one
// seen. Survivors keep their relative order.
func Ingest(orders []PaymentOrder) []PaymentOrder {
	out, _ := ingest(orders)
	return out
}

func ingest(orders []PaymentOrder) ([]PaymentOrder, int) {
	seen := make(map[Identity]struct{}, len(orders))
	out := make([]PaymentOrder, 0, len(orders))
	collapsed := 0
	for _, o := range orders {
		key := o.Identity()
		if _, ok := seen[key]; ok {
			collapsed++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, o)
	}
	return out, collapsed
}

// PaymentFilter narrows the payment view.
type PaymentFilter struct {
	Search   string     `json:"search"`
	DateFrom *time.Time `json:"date_from"`
	DateTo   *time.Time `json:"date_to"`
}

// PaymentSortKey selects the payment ordering.
type PaymentSortKey string

const (
	PaymentSortByDate   PaymentSortKey = "date"
	PaymentSortByAmount PaymentSortKey = "amount"
)

// PaymentSort orders the payment view. An empty key keeps fetch order.
type PaymentSort struct {
	Key  PaymentSortKey `json:"key"`
	Desc bool           `json:"desc"`
}

// PaymentStore is the deduplicated payment history of a supplier.
type PaymentStore struct {
	orders    []PaymentOrder
	collapsed int
}

// NewPaymentStore ingests raw records.
func NewPaymentStore(raw []PaymentOrder) PaymentStore {
	orders, collapsed := ingest(raw)
	return PaymentStore{orders: orders, collapsed: collapsed}
}

// Len is the number of distinct payments.
func (s PaymentStore) Len() int {
	return len(s.orders)
}

// Collapsed is the number of duplicate records dropped on ingest.
func (s PaymentStore) Collapsed() int {
	return s.collapsed
}

// All returns every payment in fetch order.
func (s PaymentStore) All() []PaymentOrder {
	return append([]PaymentOrder(nil), s.orders...)
}

// Get looks up a payment by ID.
func (s PaymentStore) Get(id int64) (PaymentOrder, bool) {
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return PaymentOrder{}, false
}

// TotalPaid sums the tendered amount of every payment.
func (s PaymentStore) TotalPaid() money.Money {
	total := money.Zero()
	for _, o := range s.orders {
		total = total.Add(o.Total())
	}
	return total
}

// List returns the filtered payments. Ties keep fetch order.
func (s PaymentStore) List(filter PaymentFilter, order PaymentSort) []PaymentOrder {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]PaymentOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if search != "" && !strings.Contains(strings.ToLower(o.Number), search) &&
			!strings.Contains(strings.ToLower(o.Notes), search) {
			continue
		}
		if filter.DateFrom != nil && o.Date.Before(dateOf(*filter.DateFrom)) {
			continue
		}
		if filter.DateTo != nil && o.Date.After(dateOf(*filter.DateTo)) {
			continue
		}
		out = append(out, o)
	}
	if order.Key == "" {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		var c int
		switch order.Key {
		case PaymentSortByDate:
			c = out[i].Date.Compare(out[j].Date)
		case PaymentSortByAmount:
			c = out[i].Total().Cmp(out[j].Total())
		}
		if order.Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

// with appends a confirmed order unless an identical one is already known.
func (s PaymentStore) with(order PaymentOrder) PaymentStore {
	orders, collapsed := ingest(append(s.All(), order))
	return PaymentStore{orders: orders, collapsed: s.collapsed + collapsed}
}

func (s PaymentStore) without(id int64) PaymentStore {
	out := make([]PaymentOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return PaymentStore{orders: out, collapsed: s.collapsed}
}
