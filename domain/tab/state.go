package tab

import (
	cqrs "github.com/terraskye/tabflow"
)

// State is the replayed view of one tab, exactly what the deciders need and
// nothing more. It is rebuilt from the stream on every command, so it holds
// no identity or positions.
type State struct {
	Open        bool
	Closed      bool
	TableNumber int
	Waiter      string

	OutstandingDrinks []OrderedItem
	OutstandingFood   []OrderedItem
	PreparedFood      []OrderedItem

	// ServedValue accumulates the price of everything delivered to the
	// table; CloseTab checks payment against it.
	ServedValue float64
}

// Evolve folds tab events into State. Appliers copy slices before mutating
// so a fold never aliases state from a previous attempt.
var Evolve = cqrs.NewEvolver(
	cqrs.Apply(func(s State, e TabOpened) State {
		s.Open = true
		s.TableNumber = e.TableNumber
		s.Waiter = e.Waiter
		return s
	}),
	cqrs.Apply(func(s State, e DrinksOrdered) State {
		s.OutstandingDrinks = appendItems(s.OutstandingDrinks, e.Items)
		return s
	}),
	cqrs.Apply(func(s State, e FoodOrdered) State {
		s.OutstandingFood = appendItems(s.OutstandingFood, e.Items)
		return s
	}),
	cqrs.Apply(func(s State, e DrinksServed) State {
		var served []OrderedItem
		s.OutstandingDrinks, served = removeItems(s.OutstandingDrinks, e.MenuNumbers)
		for _, item := range served {
			s.ServedValue += item.Price
		}
		return s
	}),
	cqrs.Apply(func(s State, e FoodPrepared) State {
		var prepared []OrderedItem
		s.OutstandingFood, prepared = removeItems(s.OutstandingFood, e.MenuNumbers)
		s.PreparedFood = appendItems(s.PreparedFood, prepared)
		return s
	}),
	cqrs.Apply(func(s State, e FoodServed) State {
		var served []OrderedItem
		s.PreparedFood, served = removeItems(s.PreparedFood, e.MenuNumbers)
		for _, item := range served {
			s.ServedValue += item.Price
		}
		return s
	}),
	cqrs.Apply(func(s State, e TabClosed) State {
		s.Open = false
		s.Closed = true
		return s
	}),
)

// appendItems returns a fresh slice; the input is never mutated.
func appendItems(items []OrderedItem, add []OrderedItem) []OrderedItem {
	out := make([]OrderedItem, 0, len(items)+len(add))
	out = append(out, items...)
	out = append(out, add...)
	return out
}

// removeItems takes one item per requested menu number out of items,
// first-match-wins, and returns the remainder and the removed items. Menu
// numbers with no match are ignored; deciders validate containment before
// emitting events, so a miss here only happens when folding foreign history.
func removeItems(items []OrderedItem, menuNumbers []int) (remaining, removed []OrderedItem) {
	remaining = make([]OrderedItem, len(items))
	copy(remaining, items)

	for _, n := range menuNumbers {
		for i, item := range remaining {
			if item.MenuNumber == n {
				removed = append(removed, item)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return remaining, removed
}

// containsAll reports whether items covers every requested menu number as a
// multiset: two orders of the same drink need two outstanding lines.
func containsAll(items []OrderedItem, menuNumbers []int) bool {
	_, removed := removeItems(items, menuNumbers)
	return len(removed) == len(menuNumbers)
}
