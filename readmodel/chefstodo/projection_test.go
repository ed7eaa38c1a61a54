package chefstodo_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqrs "github.com/terraskye/tabflow"
	"github.com/terraskye/tabflow/domain/tab"
	"github.com/terraskye/tabflow/readmodel/chefstodo"
)

func feed(t *testing.T, p *chefstodo.Projection, events ...cqrs.Event) {
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

func TestStreamFilter_DeclaresFoodEventsOnly(t *testing.T) {
	p := chefstodo.New()
	assert.ElementsMatch(t, []string{"tab.food_ordered", "tab.food_prepared"}, p.StreamFilter())
}

func TestTodoList_TracksOutstandingFood(t *testing.T) {
	p := chefstodo.New()
	feed(t, p,
		tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{
			{MenuNumber: 16, Description: "pasta", Price: 11.0},
			{MenuNumber: 17, Description: "pizza", Price: 9.5},
		}},
		tab.FoodOrdered{TabID: "tab-2", Items: []tab.OrderedItem{
			{MenuNumber: 16, Description: "pasta", Price: 11.0},
		}},
	)

	list := p.TodoList()
	require.Len(t, list, 2)
	assert.Equal(t, "tab-1", list[0].TabID)
	assert.Equal(t, "tab-2", list[1].TabID)
	assert.Equal(t, []chefstodo.TodoItem{
		{MenuNumber: 16, Description: "pasta"},
		{MenuNumber: 17, Description: "pizza"},
	}, list[0].Items)
}

func TestPreparedItemsLeaveTheList(t *testing.T) {
	p := chefstodo.New()
	feed(t, p,
		tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{
			{MenuNumber: 16, Description: "pasta"},
			{MenuNumber: 17, Description: "pizza"},
		}},
		tab.FoodPrepared{TabID: "tab-1", MenuNumbers: []int{16}},
	)

	g, ok := p.TodoForTab("tab-1")
	require.True(t, ok)
	assert.Equal(t, []chefstodo.TodoItem{{MenuNumber: 17, Description: "pizza"}}, g.Items)
}

func TestEmptyGroupIsDropped(t *testing.T) {
	p := chefstodo.New()
	feed(t, p,
		tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{{MenuNumber: 16, Description: "pasta"}}},
		tab.FoodPrepared{TabID: "tab-1", MenuNumbers: []int{16}},
	)

	_, ok := p.TodoForTab("tab-1")
	assert.False(t, ok)
	assert.Empty(t, p.TodoList())
}

func TestPreparedForUnknownTabErrors(t *testing.T) {
	p := chefstodo.New()

	err := p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-9",
		Event:    tab.FoodPrepared{TabID: "tab-9", MenuNumbers: []int{16}},
	})
	assert.Error(t, err)
}

func TestPreparedItemNotOnListErrors(t *testing.T) {
	p := chefstodo.New()
	feed(t, p, tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{{MenuNumber: 16, Description: "pasta"}}})

	err := p.Handle(context.Background(), &cqrs.Envelope{
		StreamID: "tab-1",
		Event:    tab.FoodPrepared{TabID: "tab-1", MenuNumbers: []int{99}},
	})
	assert.Error(t, err)
}

func TestQueriesReturnCopies(t *testing.T) {
	p := chefstodo.New()
	feed(t, p, tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{{MenuNumber: 16, Description: "pasta"}}})

	list := p.TodoList()
	list[0].Items[0].Description = "scribbled over"
	list[0].TabID = "someone-else"

	g, ok := p.TodoForTab("tab-1")
	require.True(t, ok)
	assert.Equal(t, "pasta", g.Items[0].Description)

	g.Items[0].MenuNumber = 999
	again, _ := p.TodoForTab("tab-1")
	assert.Equal(t, 16, again.Items[0].MenuNumber)
}

func TestConcurrentQueriesDuringHandling(t *testing.T) {
	p := chefstodo.New()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, p.Handle(context.Background(), &cqrs.Envelope{
				StreamID: "tab-1",
				Event:    tab.FoodOrdered{TabID: "tab-1", Items: []tab.OrderedItem{{MenuNumber: 16, Description: "pasta"}}},
			}))
			assert.NoError(t, p.Handle(context.Background(), &cqrs.Envelope{
				StreamID: "tab-1",
				Event:    tab.FoodPrepared{TabID: "tab-1", MenuNumbers: []int{16}},
			}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, g := range p.TodoList() {
				_ = g.Items
			}
			p.TodoForTab("tab-1")
		}
	}()

	wg.Wait()
}
