// Package statemachine holds the fixed transition tables for payments,
// orders, shipments and refund requests. It only judges transitions; callers
// decide whether a violation is fatal or advisory.
package statemachine

import (
	"fmt"
	"sort"
)

type Kind string

const (
	Payment       Kind = "payment"
	Order         Kind = "order"
	Shipment      Kind = "shipment"
	RefundRequest Kind = "refund_request"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{Payment, Order, Shipment, RefundRequest}

var tables = map[Kind]map[string][]string{
	Payment: {
		"pending":    {"processing", "failed"},
		"processing": {"completed", "failed"},
		"completed":  {"refunded"},
		"failed":     {"pending"},
		"refunded":   {},
	},
	Order: {
		"new":                      {"processing", "cancelled"},
		"processing":               {"paid", "cancelled"},
		"paid":                     {"shipped", "cancelled"},
		"paid_but_shipment_failed": {"paid", "shipped", "cancelled"},
		"shipped":                  {"delivered", "cancelled"},
		"delivered":                {},
		"cancelled":                {},
		"returned":                 {},
	},
	Shipment: {
		"new":        {"processing", "cancelled"},
		"processing": {"shipped", "cancelled"},
		"shipped":    {"delivered", "cancelled"},
		"delivered":  {},
		"cancelled":  {},
		"returned":   {},
	},
	RefundRequest: {
		"pending_admin_approval": {"approved"},
		"approved":               {"completed"},
		"completed":              {},
	},
}

// IllegalTransitionError is returned by Check for any edge missing from the
// kind's table.
type IllegalTransitionError struct {
	Kind Kind
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Kind, e.From, e.To)
}

// IsLegal reports whether kind may move from -> to. Unknown kinds and unknown
// source states are never legal; self transitions are never listed.
func IsLegal[S ~string](kind Kind, from, to S) bool {
	table, ok := tables[kind]
	if !ok {
		return false
	}
	next, ok := table[string(from)]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == string(to) {
			return true
		}
	}
	return false
}

// Check is IsLegal returning a typed error.
func Check[S ~string](kind Kind, from, to S) error {
	if !IsLegal(kind, from, to) {
		return &IllegalTransitionError{Kind: kind, From: string(from), To: string(to)}
	}
	return nil
}

// IsTerminal reports whether state has no outgoing edges. Unknown states are
// not terminal.
func IsTerminal[S ~string](kind Kind, state S) bool {
	next, ok := tables[kind][string(state)]
	return ok && len(next) == 0
}

// States returns the known states of kind, sorted.
func States(kind Kind) []string {
	out := make([]string, 0, len(tables[kind]))
	for s := range tables[kind] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Targets returns a copy of the legal targets from state.
func Targets(kind Kind, state string) []string {
	next := tables[kind][state]
	out := make([]string, len(next))
	copy(out, next)
	return out
}
