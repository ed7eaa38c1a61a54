// Package opentabs maintains the waiters' view of the floor: which tables
// have open tabs, what is still to serve or in preparation per table, and
// the running invoice. Indexed by table number, which is what the staff
// think in; the tab ID is carried for command submission.
package opentabs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	cqrs "github.com/terraskye/tabflow"
	"github.com/terraskye/tabflow/domain/tab"
)

// TabItem is one ordered line as the floor sees it.
type TabItem struct {
	MenuNumber  int
	Description string
	Price       float64
}

// TabStatus is the live state of one table's tab.
type TabStatus struct {
	TabID         string
	TableNumber   int
	Waiter        string
	ToServe       []TabItem
	InPreparation []TabItem
	Served        []TabItem
}

// TabInvoice is the bill for one table.
type TabInvoice struct {
	TabID            string
	TableNumber      int
	Items            []TabItem
	Total            float64
	HasUnservedItems bool
}

type tabEntry struct {
	tabID         string
	tableNumber   int
	waiter        string
	toServe       []TabItem
	inPreparation []TabItem
	served        []TabItem
}

// Projection is the open tabs read model.
type Projection struct {
	group *cqrs.EventGroupProcessor

	mu       sync.RWMutex
	byTable  map[int]*tabEntry
	tableFor map[string]int
}

var _ cqrs.Projection = (*Projection)(nil)

// New constructs an empty open tabs projection.
func New() *Projection {
	p := &Projection{
		byTable:  make(map[int]*tabEntry),
		tableFor: make(map[string]int),
	}
	p.group = cqrs.NewEventGroupProcessor(
		cqrs.OnEvent(p.onTabOpened),
		cqrs.OnEvent(p.onDrinksOrdered),
		cqrs.OnEvent(p.onFoodOrdered),
		cqrs.OnEvent(p.onDrinksServed),
		cqrs.OnEvent(p.onFoodPrepared),
		cqrs.OnEvent(p.onFoodServed),
		cqrs.OnEvent(p.onTabClosed),
	)
	return p
}

// ProjectionName identifies this projection on the bus.
func (p *Projection) ProjectionName() string { return "open-tabs" }

// StreamFilter lists the event kinds this projection consumes.
func (p *Projection) StreamFilter() []string { return p.group.StreamFilter() }

// Handle routes one committed envelope into the index.
func (p *Projection) Handle(ctx context.Context, envelope *cqrs.Envelope) error {
	return p.group.Handle(ctx, envelope)
}

// onTabOpened takes the table for the new tab. The aggregate does not enforce
// table occupancy, so a second tab can legitimately open on an occupied
// table; the new tab displaces the old entry and the displaced tab's mapping
// is dropped, so its later events surface as unknown-tab errors instead of
// landing on the new tab.
func (p *Projection) onTabOpened(ctx context.Context, e tab.TabOpened) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.byTable[e.TableNumber]; ok {
		delete(p.tableFor, old.tabID)
	}
	p.byTable[e.TableNumber] = &tabEntry{
		tabID:       e.TabID,
		tableNumber: e.TableNumber,
		waiter:      e.Waiter,
	}
	p.tableFor[e.TabID] = e.TableNumber
	return nil
}

func (p *Projection) onDrinksOrdered(ctx context.Context, e tab.DrinksOrdered) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.entryFor(e.TabID)
	if err != nil {
		return err
	}
	for _, item := range e.Items {
		entry.toServe = append(entry.toServe, toTabItem(item))
	}
	return nil
}

func (p *Projection) onFoodOrdered(ctx context.Context, e tab.FoodOrdered) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.entryFor(e.TabID)
	if err != nil {
		return err
	}
	for _, item := range e.Items {
		entry.inPreparation = append(entry.inPreparation, toTabItem(item))
	}
	return nil
}

func (p *Projection) onDrinksServed(ctx context.Context, e tab.DrinksServed) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.entryFor(e.TabID)
	if err != nil {
		return err
	}
	moved, rest, err := moveItems(entry.toServe, e.MenuNumbers)
	if err != nil {
		return fmt.Errorf("open-tabs: serve drinks on tab %q: %w", e.TabID, err)
	}
	entry.toServe = rest
	entry.served = append(entry.served, moved...)
	return nil
}

func (p *Projection) onFoodPrepared(ctx context.Context, e tab.FoodPrepared) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.entryFor(e.TabID)
	if err != nil {
		return err
	}
	moved, rest, err := moveItems(entry.inPreparation, e.MenuNumbers)
	if err != nil {
		return fmt.Errorf("open-tabs: prepare food on tab %q: %w", e.TabID, err)
	}
	entry.inPreparation = rest
	entry.toServe = append(entry.toServe, moved...)
	return nil
}

func (p *Projection) onFoodServed(ctx context.Context, e tab.FoodServed) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.entryFor(e.TabID)
	if err != nil {
		return err
	}
	moved, rest, err := moveItems(entry.toServe, e.MenuNumbers)
	if err != nil {
		return fmt.Errorf("open-tabs: serve food on tab %q: %w", e.TabID, err)
	}
	entry.toServe = rest
	entry.served = append(entry.served, moved...)
	return nil
}

func (p *Projection) onTabClosed(ctx context.Context, e tab.TabClosed) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	table, ok := p.tableFor[e.TabID]
	if !ok {
		return fmt.Errorf("open-tabs: closed unknown tab %q", e.TabID)
	}
	delete(p.byTable, table)
	delete(p.tableFor, e.TabID)
	return nil
}

func (p *Projection) entryFor(tabID string) (*tabEntry, error) {
	table, ok := p.tableFor[tabID]
	if !ok {
		return nil, fmt.Errorf("open-tabs: event for unknown tab %q", tabID)
	}
	entry := p.byTable[table]
	if entry == nil || entry.tabID != tabID {
		// The table was taken over by another tab; never apply a displaced
		// tab's events to the current occupant.
		return nil, fmt.Errorf("open-tabs: event for unknown tab %q", tabID)
	}
	return entry, nil
}

// moveItems takes one item per menu number out of items, first-match-wins.
// Every requested number must match; the feed only carries events the
// aggregate validated.
func moveItems(items []TabItem, menuNumbers []int) (moved, remaining []TabItem, err error) {
	remaining = make([]TabItem, len(items))
	copy(remaining, items)

	for _, n := range menuNumbers {
		found := false
		for i, item := range remaining {
			if item.MenuNumber == n {
				moved = append(moved, item)
				remaining = append(remaining[:i], remaining[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("item %d not present", n)
		}
	}
	return moved, remaining, nil
}

func toTabItem(item tab.OrderedItem) TabItem {
	return TabItem{
		MenuNumber:  item.MenuNumber,
		Description: item.Description,
		Price:       item.Price,
	}
}

// ActiveTableNumbers returns the tables with open tabs, ascending.
func (p *Projection) ActiveTableNumbers() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]int, 0, len(p.byTable))
	for table := range p.byTable {
		out = append(out, table)
	}
	sort.Ints(out)
	return out
}

// TabIDForTable returns the open tab's ID for a table.
func (p *Projection) TabIDForTable(table int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.byTable[table]
	if !ok {
		return "", false
	}
	return entry.tabID, true
}

// StatusForTable returns the live status of a table's tab as a deep copy.
func (p *Projection) StatusForTable(table int) (TabStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.byTable[table]
	if !ok {
		return TabStatus{}, false
	}
	return TabStatus{
		TabID:         entry.tabID,
		TableNumber:   entry.tableNumber,
		Waiter:        entry.waiter,
		ToServe:       copyItems(entry.toServe),
		InPreparation: copyItems(entry.inPreparation),
		Served:        copyItems(entry.served),
	}, true
}

// InvoiceForTable returns the bill for a table: everything served so far,
// the total, and whether items are still on their way.
func (p *Projection) InvoiceForTable(table int) (TabInvoice, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.byTable[table]
	if !ok {
		return TabInvoice{}, false
	}

	inv := TabInvoice{
		TabID:            entry.tabID,
		TableNumber:      entry.tableNumber,
		Items:            copyItems(entry.served),
		HasUnservedItems: len(entry.toServe) > 0 || len(entry.inPreparation) > 0,
	}
	for _, item := range inv.Items {
		inv.Total += item.Price
	}
	return inv, true
}

// TodoListForWaiter returns, per table the waiter covers, the items ready to
// bring out. Tables with nothing to serve are omitted.
func (p *Projection) TodoListForWaiter(waiter string) map[int][]TabItem {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[int][]TabItem)
	for table, entry := range p.byTable {
		if entry.waiter != waiter || len(entry.toServe) == 0 {
			continue
		}
		out[table] = copyItems(entry.toServe)
	}
	return out
}

func copyItems(items []TabItem) []TabItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]TabItem, len(items))
	copy(out, items)
	return out
}
