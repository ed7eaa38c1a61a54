package tab

import (
	cqrs "github.com/terraskye/tabflow"
)

// Deciders, one per command. All are pure: they read the replayed State and
// the command and return events or a rejection, never touching anything
// else. The engine re-runs them from a fresh replay after a concurrency
// conflict, so nothing here may depend on attempt count or time.

// DecideOpenTab opens a tab that has no history yet.
func DecideOpenTab(s State, c OpenTab) ([]cqrs.Event, error) {
	if s.Open || s.Closed {
		return nil, ErrTabAlreadyOpen
	}
	return []cqrs.Event{TabOpened{
		TabID:       c.TabID,
		TableNumber: c.TableNumber,
		Waiter:      c.Waiter,
	}}, nil
}

// DecidePlaceOrder splits the order into drink and food lines. An order of
// only drinks or only food produces a single event; an empty order produces
// none and appends nothing.
func DecidePlaceOrder(s State, c PlaceOrder) ([]cqrs.Event, error) {
	if !s.Open {
		return nil, ErrTabNotOpen
	}

	var drinks, food []OrderedItem
	for _, item := range c.Items {
		if item.IsDrink {
			drinks = append(drinks, item)
		} else {
			food = append(food, item)
		}
	}

	var events []cqrs.Event
	if len(drinks) > 0 {
		events = append(events, DrinksOrdered{TabID: c.TabID, Items: drinks})
	}
	if len(food) > 0 {
		events = append(events, FoodOrdered{TabID: c.TabID, Items: food})
	}
	return events, nil
}

// DecideMarkDrinksServed accepts only drinks that are actually outstanding,
// counted as a multiset. A partial match rejects the whole command.
func DecideMarkDrinksServed(s State, c MarkDrinksServed) ([]cqrs.Event, error) {
	if !s.Open {
		return nil, ErrTabNotOpen
	}
	if !containsAll(s.OutstandingDrinks, c.MenuNumbers) {
		return nil, ErrDrinksNotOutstanding
	}
	return []cqrs.Event{DrinksServed{TabID: c.TabID, MenuNumbers: c.MenuNumbers}}, nil
}

// DecideMarkFoodPrepared accepts only food that is outstanding for the
// kitchen.
func DecideMarkFoodPrepared(s State, c MarkFoodPrepared) ([]cqrs.Event, error) {
	if !s.Open {
		return nil, ErrTabNotOpen
	}
	if !containsAll(s.OutstandingFood, c.MenuNumbers) {
		return nil, ErrFoodNotOutstanding
	}
	return []cqrs.Event{FoodPrepared{TabID: c.TabID, MenuNumbers: c.MenuNumbers}}, nil
}

// DecideMarkFoodServed accepts only food the kitchen has prepared. Food that
// is merely ordered cannot be served past the kitchen.
func DecideMarkFoodServed(s State, c MarkFoodServed) ([]cqrs.Event, error) {
	if !s.Open {
		return nil, ErrTabNotOpen
	}
	if !containsAll(s.PreparedFood, c.MenuNumbers) {
		return nil, ErrFoodNotPrepared
	}
	return []cqrs.Event{FoodServed{TabID: c.TabID, MenuNumbers: c.MenuNumbers}}, nil
}

// DecideCloseTab settles the tab. Everything ordered must have been served
// and the payment must cover the served value; the surplus becomes the tip.
func DecideCloseTab(s State, c CloseTab) ([]cqrs.Event, error) {
	if !s.Open {
		return nil, ErrTabNotOpen
	}
	if len(s.OutstandingDrinks) > 0 || len(s.OutstandingFood) > 0 || len(s.PreparedFood) > 0 {
		return nil, ErrTabHasUnservedItems
	}
	if c.AmountPaid < s.ServedValue {
		return nil, ErrMustPayEnough
	}
	return []cqrs.Event{TabClosed{
		TabID:      c.TabID,
		AmountPaid: c.AmountPaid,
		OrderValue: s.ServedValue,
		TipValue:   c.AmountPaid - s.ServedValue,
	}}, nil
}

// RegisterHandlers builds a command handler per tab command over the store
// and registers all of them on the dispatcher. The options apply to every
// handler; pass WithConflictRetries to absorb concurrent submissions against
// the same tab.
func RegisterHandlers(d *cqrs.Dispatcher, store cqrs.EventStore, opts ...cqrs.CommandHandlerOption) {
	cqrs.RegisterHandler(d, cqrs.NewCommandHandler(store, State{}, Evolve, DecideOpenTab, opts...))
	cqrs.RegisterHandler(d, cqrs.NewCommandHandler(store, State{}, Evolve, DecidePlaceOrder, opts...))
	cqrs.RegisterHandler(d, cqrs.NewCommandHandler(store, State{}, Evolve, DecideMarkDrinksServed, opts...))
	cqrs.RegisterHandler(d, cqrs.NewCommandHandler(store, State{}, Evolve, DecideMarkFoodPrepared, opts...))
	cqrs.RegisterHandler(d, cqrs.NewCommandHandler(store, State{}, Evolve, DecideMarkFoodServed, opts...))
	cqrs.RegisterHandler(d, cqrs.NewCommandHandler(store, State{}, Evolve, DecideCloseTab, opts...))
}
