package ticket

import (
	crand "crypto/rand"
	"lototet/internal/model"
	"math/rand/v2"
	"slices"
	"sync"
)

const (
	// extraNumbers is spread over the columns after each gets one number.
	extraNumbers   = model.TicketRows*model.NumbersPerRow - model.TicketCols
	maxAttempts    = 50
	maxPerColumn   = model.TicketRows
	rowsPerTicket  = model.TicketRows
	colsPerTicket  = model.TicketCols
	numbersPerRow  = model.NumbersPerRow
	ticketsInSheet = model.TicketsPerSheet
)

// column placement patterns indexed by how many numbers the column holds
var patterns = [maxPerColumn + 1][][rowsPerTicket]bool{
	1: {{true, false, false}, {false, true, false}, {false, false, true}},
	2: {{true, true, false}, {true, false, true}, {false, true, true}},
	3: {{true, true, true}},
}

type layout [rowsPerTicket][colsPerTicket]bool

// Generator builds lô tô sheets. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator drawing from rng. A nil rng is seeded
// from crypto/rand.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = NewRand()
	}
	return &Generator{rng: rng}
}

// NewRand returns a ChaCha8 source seeded from crypto/rand.
func NewRand() *rand.Rand {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// NewSheet returns three tickets that share no numbers. A ticket whose layout
// cannot be solved within the attempt budget comes back empty.
func (g *Generator) NewSheet() model.Sheet {
	g.mu.Lock()
	defer g.mu.Unlock()

	var pools [colsPerTicket][]int
	for c := range pools {
		lo, hi := model.ColumnRange(c)
		pool := make([]int, 0, hi-lo+1)
		for n := lo; n <= hi; n++ {
			pool = append(pool, n)
		}
		g.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		pools[c] = pool
	}

	sheet := make(model.Sheet, 0, ticketsInSheet)
	for i := 0; i < ticketsInSheet; i++ {
		t, _ := g.ticket(&pools)
		sheet = append(sheet, t)
	}
	return sheet
}

// ticket consumes numbers from pools only once a layout has been found.
func (g *Generator) ticket(pools *[colsPerTicket][]int) (model.Ticket, bool) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		counts, ok := g.columnCounts(pools)
		if !ok {
			continue
		}
		grid, ok := g.solve(0, counts, [rowsPerTicket]int{}, layout{})
		if !ok {
			continue
		}

		var t model.Ticket
		for c := 0; c < colsPerTicket; c++ {
			nums := slices.Clone(pools[c][:counts[c]])
			pools[c] = pools[c][counts[c]:]
			slices.Sort(nums)
			i := 0
			for r := 0; r < rowsPerTicket; r++ {
				if grid[r][c] {
					t[r][c] = nums[i]
					i++
				}
			}
		}
		return t, true
	}
	return model.Ticket{}, false
}

func (g *Generator) columnCounts(pools *[colsPerTicket][]int) ([colsPerTicket]int, bool) {
	var counts [colsPerTicket]int
	for c := range counts {
		if len(pools[c]) == 0 {
			return counts, false
		}
		counts[c] = 1
	}

	eligible := make([]int, 0, colsPerTicket)
	for extra := extraNumbers; extra > 0; extra-- {
		eligible = eligible[:0]
		for c := range counts {
			if counts[c] < maxPerColumn && counts[c] < len(pools[c]) {
				eligible = append(eligible, c)
			}
		}
		if len(eligible) == 0 {
			return counts, false
		}
		counts[eligible[g.rng.IntN(len(eligible))]]++
	}
	return counts, true
}

// solve places column col and recurses. Arguments are values, so a failed
// branch leaves the caller's state untouched.
func (g *Generator) solve(col int, counts [colsPerTicket]int, fill [rowsPerTicket]int, grid layout) (layout, bool) {
	if col == colsPerTicket {
		for _, f := range fill {
			if f != numbersPerRow {
				return grid, false
			}
		}
		return grid, true
	}

	remaining := colsPerTicket - col
	for _, f := range fill {
		if f+remaining < numbersPerRow {
			return grid, false
		}
	}

	opts := slices.Clone(patterns[counts[col]])
	g.rng.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })

	for _, opt := range opts {
		next := fill
		ok := true
		for r := 0; r < rowsPerTicket; r++ {
			if opt[r] {
				next[r]++
				if next[r] > numbersPerRow {
					ok = false
				}
			}
		}
		if !ok {
			continue
		}
		placed := grid
		for r := 0; r < rowsPerTicket; r++ {
			placed[r][col] = opt[r]
		}
		if out, ok := g.solve(col+1, counts, next, placed); ok {
			return out, true
		}
	}
	return grid, false
}
