package opentabs_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqrs "github.com/terraskye/tabflow"
	"github.com/terraskye/tabflow/domain/tab"
	"github.com/terraskye/tabflow/readmodel/opentabs"
)

var (
	cola  = tab.OrderedItem{MenuNumber: 4, Description: "cola", IsDrink: true, Price: 2.5}
	pasta = tab.OrderedItem{MenuNumber: 16, Description: "pasta", Price: 11.0}
)

func feed(t *testing.T, p *opentabs.Projection, events ...cqrs.Event) {
	t.Helper()
	for i, ev := range events {
		env := &cqrs.Envelope{
			StreamID:      ev.AggregateID(),
			Event:         ev,
			Version:       uint64(i + 1),
			GlobalVersion: uint64(i + 1),
		}
		require.NoError(t, p.Handle(context.Background(), env))
	}
}

func TestStreamFilter_DeclaresAllTabEvents(t *testing.T) {
	p := opentabs.New()
	assert.ElementsMatch(t, []string{
		"tab.opened",
		"tab.drinks_ordered",
		"tab.food_ordered",
		"tab.drinks_served",
		"tab.food_prepared",
		"tab.food_served",
		"tab.closed",
	}, p.StreamFilter())
}

func TestActiveTableNumbers_SortedAscending(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-7", TableNumber: 7, Waiter: "ada"},
		tab.TabOpened{TabID: "tab-2", TableNumber: 2, Waiter: "bob"},
		tab.TabOpened{TabID: "tab-5", TableNumber: 5, Waiter: "ada"},
	)

	assert.Equal(t, []int{2, 5, 7}, p.ActiveTableNumbers())

	id, ok := p.TabIDForTable(5)
	require.True(t, ok)
	assert.Equal(t, "tab-5", id)

	_, ok = p.TabIDForTable(9)
	assert.False(t, ok)
}

func TestStatusForTable_TracksItemLifecycle(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"},
		tab.DrinksOrdered{TabID: "tab-1", Items: []tab.OrderedItem{cola}},
		tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{pasta}},
	)

	status, ok := p.StatusForTable(3)
	require.True(t, ok)
	assert.Equal(t, "tab-1", status.TabID)
	assert.Equal(t, "ada", status.Waiter)
	require.Len(t, status.ToServe, 1)
	assert.Equal(t, 4, status.ToServe[0].MenuNumber)
	require.Len(t, status.InPreparation, 1)
	assert.Equal(t, 16, status.InPreparation[0].MenuNumber)
	assert.Empty(t, status.Served)

	feed(t, p,
		tab.DrinksServed{TabID: "tab-1", MenuNumbers: []int{4}},
		tab.FoodPrepared{TabID: "tab-1", MenuNumbers: []int{16}},
	)

	status, _ = p.StatusForTable(3)
	require.Len(t, status.ToServe, 1)
	assert.Equal(t, 16, status.ToServe[0].MenuNumber)
	assert.Empty(t, status.InPreparation)
	require.Len(t, status.Served, 1)
	assert.Equal(t, 4, status.Served[0].MenuNumber)

	feed(t, p, tab.FoodServed{TabID: "tab-1", MenuNumbers: []int{16}})

	status, _ = p.StatusForTable(3)
	assert.Empty(t, status.ToServe)
	assert.Len(t, status.Served, 2)
}

func TestInvoiceForTable(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"},
		tab.DrinksOrdered{TabID: "tab-1", Items: []tab.OrderedItem{cola}},
		tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{pasta}},
		tab.DrinksServed{TabID: "tab-1", MenuNumbers: []int{4}},
	)

	inv, ok := p.InvoiceForTable(3)
	require.True(t, ok)
	assert.Equal(t, 2.5, inv.Total)
	assert.True(t, inv.HasUnservedItems)

	feed(t, p,
		tab.FoodPrepared{TabID: "tab-1", MenuNumbers: []int{16}},
		tab.FoodServed{TabID: "tab-1", MenuNumbers: []int{16}},
	)

	inv, _ = p.InvoiceForTable(3)
	assert.Equal(t, 13.5, inv.Total)
	assert.False(t, inv.HasUnservedItems)
}

func TestClosedTabLeavesTheFloor(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"},
		tab.TabClosed{TabID: "tab-1", AmountPaid: 5},
	)

	assert.Empty(t, p.ActiveTableNumbers())
	_, ok := p.StatusForTable(3)
	assert.False(t, ok)
	_, ok = p.InvoiceForTable(3)
	assert.False(t, ok)
}

func TestTodoListForWaiter(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"},
		tab.TabOpened{TabID: "tab-2", TableNumber: 4, Waiter: "bob"},
		tab.DrinksOrdered{TabID: "tab-1", Items: []tab.OrderedItem{cola}},
		tab.DrinksOrdered{TabID: "tab-2", Items: []tab.OrderedItem{cola}},
	)

	todo := p.TodoListForWaiter("ada")
	require.Len(t, todo, 1)
	require.Len(t, todo[3], 1)
	assert.Equal(t, 4, todo[3][0].MenuNumber)

	// Bob's table served; nothing left for bob.
	feed(t, p, tab.DrinksServed{TabID: "tab-2", MenuNumbers: []int{4}})
	assert.Empty(t, p.TodoListForWaiter("bob"))
}

func TestReopenedTableDisplacesOldTab(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-a", TableNumber: 1, Waiter: "ada"},
		tab.TabOpened{TabID: "tab-b", TableNumber: 1, Waiter: "ben"},
	)

	// The displaced tab's events must not land on the new occupant.
	err := p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-a",
		Event:    tab.DrinksOrdered{TabID: "tab-a", Items: []tab.OrderedItem{cola}},
	})
	assert.Error(t, err)

	status, ok := p.StatusForTable(1)
	require.True(t, ok)
	assert.Equal(t, "tab-b", status.TabID)
	assert.Equal(t, "ben", status.Waiter)
	assert.Empty(t, status.ToServe)

	_, ok = p.TabIDForTable(1)
	require.True(t, ok)

	// Closing the displaced tab is equally unknown; closing the occupant works.
	err = p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-a",
		Event:    tab.TabClosed{TabID: "tab-a"},
	})
	assert.Error(t, err)
	feed(t, p, tab.TabClosed{TabID: "tab-b"})
	assert.Empty(t, p.ActiveTableNumbers())
}

func TestEventForUnknownTabErrors(t *testing.T) {
	p := opentabs.New()

	err := p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-9",
		Event:    tab.DrinksOrdered{TabID: "tab-9", Items: []tab.OrderedItem{cola}},
	})
	assert.Error(t, err)

	err = p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-9",
		Event:    tab.TabClosed{TabID: "tab-9"},
	})
	assert.Error(t, err)
}

func TestServingUnknownItemErrors(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"},
		tab.DrinksOrdered{TabID: "tab-1", Items: []tab.OrderedItem{cola}},
	)

	err := p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-1",
		Event:    tab.DrinksServed{TabID: "tab-1", MenuNumbers: []int{99}},
	})
	assert.Error(t, err)
}

func TestQueriesReturnCopies(t *testing.T) {
	p := opentabs.New()
	feed(t, p,
		tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"},
		tab.DrinksOrdered{TabID: "tab-1", Items: []tab.OrderedItem{cola}},
	)

	status, _ := p.StatusForTable(3)
	status.ToServe[0].Price = 1000

	again, _ := p.StatusForTable(3)
	assert.Equal(t, 2.5, again.ToServe[0].Price)

	todo := p.TodoListForWaiter("ada")
	todo[3][0].Description = "scribbled over"

	again, _ = p.StatusForTable(3)
	assert.Equal(t, "cola", again.ToServe[0].Description)
}

func TestConcurrentQueriesDuringHandling(t *testing.T) {
	p := opentabs.New()
	feed(t, p, tab.TabOpened{TabID: "tab-1", TableNumber: 3, Waiter: "ada"})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, p.Handle(context.Background(), &cqrs.Envelope{
				StreamID: "tab-1",
				Event:    tab.DrinksOrdered{TabID: "tab-1", Items: []tab.OrderedItem{cola}},
			}))
			assert.NoError(t, p.Handle(context.Background(), &cqrs.Envelope{
				StreamID: "tab-1",
				Event:    tab.DrinksServed{TabID: "tab-1", MenuNumbers: []int{4}},
			}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p.ActiveTableNumbers()
			p.StatusForTable(3)
			p.InvoiceForTable(3)
			p.TodoListForWaiter("ada")
		}
	}()

	wg.Wait()
}
