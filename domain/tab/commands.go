package tab

// OpenTab opens a new tab for a table. The tab ID is chosen by the caller so
// a retried submission targets the same stream.
type OpenTab struct {
	TabID       string
	TableNumber int
	Waiter      string
}

func (c OpenTab) AggregateID() string { return c.TabID }

// PlaceOrder puts items on an open tab. Drinks and food are tracked
// separately from here on: drinks go straight to serving, food passes
// through the kitchen first.
type PlaceOrder struct {
	TabID string
	Items []OrderedItem
}

func (c PlaceOrder) AggregateID() string { return c.TabID }

// MarkDrinksServed records delivery of outstanding drinks, identified by
// menu number.
type MarkDrinksServed struct {
	TabID       string
	MenuNumbers []int
}

func (c MarkDrinksServed) AggregateID() string { return c.TabID }

// MarkFoodPrepared records the kitchen finishing outstanding food.
type MarkFoodPrepared struct {
	TabID       string
	MenuNumbers []int
}

func (c MarkFoodPrepared) AggregateID() string { return c.TabID }

// MarkFoodServed records delivery of prepared food.
type MarkFoodServed struct {
	TabID       string
	MenuNumbers []int
}

func (c MarkFoodServed) AggregateID() string { return c.TabID }

// CloseTab settles an open tab. The payment must cover everything served;
// anything above the served value is recorded as tip.
type CloseTab struct {
	TabID      string
	AmountPaid float64
}

func (c CloseTab) AggregateID() string { return c.TabID }
