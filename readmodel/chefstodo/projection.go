// Package chefstodo maintains the kitchen's work queue: for every tab with
// outstanding food, the items still to prepare. The projection owns its
// index exclusively; queries hand out copies, never views.
package chefstodo

import (
	"context"
	"fmt"
	"sync"

	cqrs "github.com/terraskye/tabflow"
	"github.com/terraskye/tabflow/domain/tab"
)

// TodoItem is one dish awaiting preparation.
type TodoItem struct {
	MenuNumber  int
	Description string
}

// TodoGroup is the outstanding food of one tab.
type TodoGroup struct {
	TabID string
	Items []TodoItem
}

// Projection is the chefs' todo list read model. It consumes food ordered
// and food prepared events; everything else on the feed is outside its
// declared interest and never delivered.
type Projection struct {
	group *cqrs.EventGroupProcessor

	mu     sync.RWMutex
	groups map[string]*TodoGroup
	order  []string
}

var _ cqrs.Projection = (*Projection)(nil)

// New constructs an empty todo list projection.
func New() *Projection {
	p := &Projection{
		groups: make(map[string]*TodoGroup),
	}
	p.group = cqrs.NewEventGroupProcessor(
		cqrs.OnEvent(p.onFoodOrdered),
		cqrs.OnEvent(p.onFoodPrepared),
	)
	return p
}

// ProjectionName identifies this projection on the bus.
func (p *Projection) ProjectionName() string { return "chefs-todo-list" }

// StreamFilter lists the event kinds this projection consumes.
func (p *Projection) StreamFilter() []string { return p.group.StreamFilter() }

// Handle routes one committed envelope into the index.
func (p *Projection) Handle(ctx context.Context, envelope *cqrs.Envelope) error {
	return p.group.Handle(ctx, envelope)
}

func (p *Projection) onFoodOrdered(ctx context.Context, e tab.FoodOrdered) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.groups[e.TabID]
	if !ok {
		g = &TodoGroup{TabID: e.TabID}
		p.groups[e.TabID] = g
		p.order = append(p.order, e.TabID)
	}

	for _, item := range e.Items {
		g.Items = append(g.Items, TodoItem{
			MenuNumber:  item.MenuNumber,
			Description: item.Description,
		})
	}
	return nil
}

// onFoodPrepared removes prepared dishes from the tab's group and drops the
// group once it is empty. The feed replays the exact history the aggregate
// committed, so a missing group or item means the projection's index has
// diverged and the error is surfaced rather than papered over.
func (p *Projection) onFoodPrepared(ctx context.Context, e tab.FoodPrepared) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.groups[e.TabID]
	if !ok {
		return fmt.Errorf("chefs-todo-list: food prepared for unknown tab %q", e.TabID)
	}

	for _, n := range e.MenuNumbers {
		found := false
		for i, item := range g.Items {
			if item.MenuNumber == n {
				g.Items = append(g.Items[:i], g.Items[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("chefs-todo-list: prepared item %d not on todo list for tab %q", n, e.TabID)
		}
	}

	if len(g.Items) == 0 {
		delete(p.groups, e.TabID)
		for i, id := range p.order {
			if id == e.TabID {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

// TodoList returns every group with outstanding food, oldest tab first. The
// result is a deep copy; mutating it cannot touch the index.
func (p *Projection) TodoList() []TodoGroup {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]TodoGroup, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, copyGroup(p.groups[id]))
	}
	return out
}

// TodoForTab returns the outstanding food of one tab as a deep copy, and
// whether the tab has any.
func (p *Projection) TodoForTab(tabID string) (TodoGroup, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	g, ok := p.groups[tabID]
	if !ok {
		return TodoGroup{}, false
	}
	return copyGroup(g), true
}

func copyGroup(g *TodoGroup) TodoGroup {
	items := make([]TodoItem, len(g.Items))
	copy(items, g.Items)
	return TodoGroup{TabID: g.TabID, Items: items}
}
