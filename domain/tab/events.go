// Package tab models the lifecycle of a café tab: opened against a table,
// orders placed and worked off as drinks are served and food is prepared and
// served, then closed with payment. The aggregate is one tab; its stream ID
// is the tab ID.
package tab

import (
	cqrs "github.com/terraskye/tabflow"
)

// OrderedItem is one line of an order as placed on a tab.
type OrderedItem struct {
	MenuNumber  int     `json:"menu_number"`
	Description string  `json:"description"`
	IsDrink     bool    `json:"is_drink"`
	Price       float64 `json:"price"`
}

// TabOpened records that a tab was opened for a table.
type TabOpened struct {
	TabID       string `json:"tab_id"`
	TableNumber int    `json:"table_number"`
	Waiter      string `json:"waiter"`
}

func (e TabOpened) AggregateID() string { return e.TabID }
func (e TabOpened) EventType() string   { return "tab.opened" }

// DrinksOrdered records the drink lines of a placed order. An order
// containing both drinks and food produces this alongside FoodOrdered.
type DrinksOrdered struct {
	TabID string        `json:"tab_id"`
	Items []OrderedItem `json:"items"`
}

func (e DrinksOrdered) AggregateID() string { return e.TabID }
func (e DrinksOrdered) EventType() string   { return "tab.drinks_ordered" }

// FoodOrdered records the food lines of a placed order.
type FoodOrdered struct {
	TabID string        `json:"tab_id"`
	Items []OrderedItem `json:"items"`
}

func (e FoodOrdered) AggregateID() string { return e.TabID }
func (e FoodOrdered) EventType() string   { return "tab.food_ordered" }

// DrinksServed records outstanding drinks delivered to the table.
type DrinksServed struct {
	TabID       string `json:"tab_id"`
	MenuNumbers []int  `json:"menu_numbers"`
}

func (e DrinksServed) AggregateID() string { return e.TabID }
func (e DrinksServed) EventType() string   { return "tab.drinks_served" }

// FoodPrepared records outstanding food finished by the kitchen.
type FoodPrepared struct {
	TabID       string `json:"tab_id"`
	MenuNumbers []int  `json:"menu_numbers"`
}

func (e FoodPrepared) AggregateID() string { return e.TabID }
func (e FoodPrepared) EventType() string   { return "tab.food_prepared" }

// FoodServed records prepared food delivered to the table.
type FoodServed struct {
	TabID       string `json:"tab_id"`
	MenuNumbers []int  `json:"menu_numbers"`
}

func (e FoodServed) AggregateID() string { return e.TabID }
func (e FoodServed) EventType() string   { return "tab.food_served" }

// TabClosed records payment and closes the tab. OrderValue is the total of
// everything served; TipValue is the surplus of the payment over it.
type TabClosed struct {
	TabID      string  `json:"tab_id"`
	AmountPaid float64 `json:"amount_paid"`
	OrderValue float64 `json:"order_value"`
	TipValue   float64 `json:"tip_value"`
}

func (e TabClosed) AggregateID() string { return e.TabID }
func (e TabClosed) EventType() string   { return "tab.closed" }

// RegisterEvents registers every tab event kind with the global registry.
// Serializing store and bus backends need this once at process start; the
// in-memory backends do not.
func RegisterEvents() {
	cqrs.RegisterEvent(func() cqrs.Event { return TabOpened{} })
	cqrs.RegisterEvent(func() cqrs.Event { return DrinksOrdered{} })
	cqrs.RegisterEvent(func() cqrs.Event { return FoodOrdered{} })
	cqrs.RegisterEvent(func() cqrs.Event { return DrinksServed{} })
	cqrs.RegisterEvent(func() cqrs.Event { return FoodPrepared{} })
	cqrs.RegisterEvent(func() cqrs.Event { return FoodServed{} })
	cqrs.RegisterEvent(func() cqrs.Event { return TabClosed{} })
}
