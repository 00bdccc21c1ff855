package core

import (
	"context"
	"sync"
)

// FetchFunc retrieves one page for a view state. It may block on I/O.
type FetchFunc func(ctx context.Context, state ViewState) (Page, error)

// DefaultLoadAllChunk is the number of rows fetched per step in load-all mode.
const DefaultLoadAllChunk = 200

// ViewController owns the current ViewState of one on-screen table and the
// last result applied to it. Every Update produces a new snapshot and starts
// an asynchronous fetch; callers never block on I/O. Responses are tagged
// with a sequence number and only the newest is applied.
type ViewController struct {
	view  string
	fetch FetchFunc
	seq   *Sequencer
	acc   *LoadAllAccumulator

	mu      sync.Mutex
	state   ViewState
	result  Page
	err     error
	applied uint64
	onApply func(state ViewState, page Page, err error)

	wg sync.WaitGroup
}

// NewViewController creates a controller for view starting at initial.
// Nothing is fetched until the first Update or Refresh.
func NewViewController(view string, initial ViewState, fetch FetchFunc, seq *Sequencer) *ViewController {
	if seq == nil {
		seq = NewSequencer()
	}
	return &ViewController{
		view:  view,
		fetch: fetch,
		seq:   seq,
		acc:   NewLoadAllAccumulator(DefaultLoadAllChunk),
		state: initial,
	}
}

// OnApply registers a callback run, under no lock, after each applied result.
func (c *ViewController) OnApply(fn func(state ViewState, page Page, err error)) {
	c.mu.Lock()
	c.onApply = fn
	c.mu.Unlock()
}

// Refresh re-fetches the current state.
func (c *ViewController) Refresh(ctx context.Context) uint64 {
	return c.Update(ctx, func(s ViewState) ViewState { return s })
}

// Update replaces the state with fn(current) and dispatches a fetch for it.
// It returns the request's sequence number.
func (c *ViewController) Update(ctx context.Context, fn func(ViewState) ViewState) uint64 {
	c.mu.Lock()
	c.state = fn(c.state)
	state := c.state
	seq := c.seq.Next(c.view)

	offset := 0
	if state.LoadAll() {
		c.acc.Reset()
		offset, _ = c.acc.NextOffset()
	}
	c.mu.Unlock()

	c.dispatch(ctx, seq, state, offset)
	return seq
}

// LoadMore fetches the next chunk in load-all mode. It returns false when
// the view is paginated, everything is loaded, or a chunk is already in
// flight.
func (c *ViewController) LoadMore(ctx context.Context) bool {
	c.mu.Lock()
	state := c.state
	if !state.LoadAll() {
		c.mu.Unlock()
		return false
	}
	offset, ok := c.acc.NextOffset()
	seq := c.seq.Latest(c.view)
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.dispatch(ctx, seq, state, offset)
	return true
}

func (c *ViewController) dispatch(ctx context.Context, seq uint64, state ViewState, offset int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		req := state
		if state.LoadAll() {
			req = c.acc.ChunkState(state, offset)
		}
		page, err := c.fetch(ctx, req)
		c.apply(seq, state, offset, page, err)
	}()
}

func (c *ViewController) apply(seq uint64, state ViewState, offset int, page Page, err error) {
	c.mu.Lock()
	if !c.seq.IsCurrent(c.view, seq) {
		c.mu.Unlock()
		return
	}

	if state.LoadAll() {
		if err != nil {
			c.acc.Release(offset)
		} else if c.acc.Append(offset, page) {
			page = Page{
				Rows:       c.acc.Rows(),
				TotalCount: c.acc.Total(),
				Page:       1,
				PageSize:   state.PageSize,
				TotalPages: 1,
			}
		} else {
			c.mu.Unlock()
			return
		}
	}

	if err == nil {
		c.result = page
	}
	c.err = err
	c.applied = seq
	fn := c.onApply
	c.mu.Unlock()

	if fn != nil {
		fn(state, page, err)
	}
}

// Wait blocks until every dispatched fetch has returned.
func (c *ViewController) Wait() {
	c.wg.Wait()
}

// State returns the current snapshot.
func (c *ViewController) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the last applied page, the sequence number of the last
// applied response and its error.
func (c *ViewController) Result() (Page, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.applied, c.err
}

// LoadAllAccumulator collects rows for an unbounded view in fixed-size
// chunks. It tracks the next offset to request and refuses to hand out the
// same offset twice, so overlapping "load more" triggers cannot duplicate
// rows.
type LoadAllAccumulator struct {
	mu       sync.Mutex
	chunk    int
	rows     []TableRow
	total    int64
	next     int
	inFlight bool
	done     bool
}

// NewLoadAllAccumulator creates an accumulator fetching chunk rows at a time.
func NewLoadAllAccumulator(chunk int) *LoadAllAccumulator {
	if chunk <= 0 {
		chunk = DefaultLoadAllChunk
	}
	return &LoadAllAccumulator{chunk: chunk}
}

// Chunk returns the chunk size.
func (a *LoadAllAccumulator) Chunk() int {
	return a.chunk
}

// ChunkState converts a load-all state into the request for the chunk
// starting at offset. The offset is carried as is; Page is only the nearest
// page for display.
func (a *LoadAllAccumulator) ChunkState(state ViewState, offset int) ViewState {
	out := state.clone()
	out.PageSize = a.chunk
	out.Page = offset/a.chunk + 1
	out.rowOffset, out.hasOffset = offset, true
	return out
}

// NextOffset reserves the next offset to fetch. It returns false when all
// rows are loaded or a fetch is already outstanding.
func (a *LoadAllAccumulator) NextOffset() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight || a.done {
		return 0, false
	}
	a.inFlight = true
	return a.next, true
}

// Append adds the chunk fetched at offset. A chunk for any other offset
// than the reserved one is ignored and false is returned.
func (a *LoadAllAccumulator) Append(offset int, page Page) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inFlight || offset != a.next {
		return false
	}
	a.inFlight = false
	a.total = page.TotalCount
	a.rows = append(a.rows, page.Rows...)
	a.next += len(page.Rows)
	if len(page.Rows) == 0 || int64(a.next) >= a.total {
		a.done = true
	}
	return true
}

// Release gives back a reserved offset after a failed fetch.
func (a *LoadAllAccumulator) Release(offset int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if offset == a.next {
		a.inFlight = false
	}
}

// Rows returns a copy of the accumulated rows.
func (a *LoadAllAccumulator) Rows() []TableRow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TableRow(nil), a.rows...)
}

// Total is the filtered row count reported by the most recent chunk.
func (a *LoadAllAccumulator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Done reports whether every row has been loaded.
func (a *LoadAllAccumulator) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Reset discards everything for a new query.
func (a *LoadAllAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = nil
	a.total = 0
	a.next = 0
	a.inFlight = false
	a.done = false
}
