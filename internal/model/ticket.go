package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Ticket geometry
const (
	TicketRows      = 3
	TicketCols      = 9
	NumbersPerRow   = 5
	TicketsPerSheet = 3
	MinNumber       = 1
	MaxNumber       = 90
)

var (
	ErrInvalidTicket = errors.New("invalid ticket")
	ErrInvalidSheet  = errors.New("invalid sheet")
)

// Ticket is a 3x9 grid. A zero cell is empty.
type Ticket [TicketRows][TicketCols]int

// UnmarshalJSON requires exactly 3 rows of 9 cells. A plain array decode
// would drop surplus rows or cells silently.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var rows [][]int
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	if len(rows) != TicketRows {
		return fmt.Errorf("%w: %d rows", ErrInvalidTicket, len(rows))
	}
	var out Ticket
	for r, row := range rows {
		if len(row) != TicketCols {
			return fmt.Errorf("%w: row %d has %d cells", ErrInvalidTicket, r, len(row))
		}
		copy(out[r][:], row)
	}
	*t = out
	return nil
}

// Sheet is the set of tickets a player plays with.
type Sheet []Ticket

// ColumnRange returns the inclusive number range of a column.
// The last column also carries 90.
func ColumnRange(col int) (lo, hi int) {
	switch col {
	case 0:
		return 1, 9
	case TicketCols - 1:
		return 80, 90
	default:
		return col * 10, col*10 + 9
	}
}

// ColumnOf returns the column a number belongs to.
func ColumnOf(n int) int {
	if n >= MaxNumber {
		return TicketCols - 1
	}
	return n / 10
}

// Numbers returns the non-empty cells in row-major order.
func (t Ticket) Numbers() []int {
	out := make([]int, 0, TicketRows*NumbersPerRow)
	for r := range t {
		for c := range t[r] {
			if t[r][c] != 0 {
				out = append(out, t[r][c])
			}
		}
	}
	return out
}

// Row returns the non-empty cells of row r.
func (t Ticket) Row(r int) []int {
	out := make([]int, 0, NumbersPerRow)
	for _, n := range t[r] {
		if n != 0 {
			out = append(out, n)
		}
	}
	return out
}

// Contains reports whether n is printed on the ticket.
func (t Ticket) Contains(n int) bool {
	if n < MinNumber || n > MaxNumber {
		return false
	}
	for r := range t {
		for c := range t[r] {
			if t[r][c] == n {
				return true
			}
		}
	}
	return false
}

// IsEmpty reports whether every cell is empty.
func (t Ticket) IsEmpty() bool {
	for r := range t {
		for c := range t[r] {
			if t[r][c] != 0 {
				return false
			}
		}
	}
	return true
}

// Validate checks that every row holds exactly five numbers in 1..90.
func (t Ticket) Validate() error {
	for r := 0; r < TicketRows; r++ {
		row := t.Row(r)
		if len(row) != NumbersPerRow {
			return fmt.Errorf("%w: row %d has %d numbers", ErrInvalidTicket, r, len(row))
		}
		for _, n := range row {
			if n < MinNumber || n > MaxNumber {
				return fmt.Errorf("%w: %d out of range", ErrInvalidTicket, n)
			}
		}
	}
	return nil
}

// ValidateLayout additionally checks the printed layout: every column holds
// one to three numbers from its decade, ascending top to bottom.
func (t Ticket) ValidateLayout() error {
	if err := t.Validate(); err != nil {
		return err
	}
	for c := 0; c < TicketCols; c++ {
		lo, hi := ColumnRange(c)
		prev, count := 0, 0
		for r := 0; r < TicketRows; r++ {
			n := t[r][c]
			if n == 0 {
				continue
			}
			if n < lo || n > hi {
				return fmt.Errorf("%w: %d outside column %d", ErrInvalidTicket, n, c)
			}
			if n <= prev {
				return fmt.Errorf("%w: column %d not ascending", ErrInvalidTicket, c)
			}
			prev = n
			count++
		}
		if count == 0 {
			return fmt.Errorf("%w: column %d is empty", ErrInvalidTicket, c)
		}
	}
	return nil
}

// Validate checks the sheet's shape and that no number repeats across it.
func (s Sheet) Validate() error {
	if len(s) != TicketsPerSheet {
		return fmt.Errorf("%w: %d tickets", ErrInvalidSheet, len(s))
	}
	seen := make(map[int]struct{}, TicketsPerSheet*TicketRows*NumbersPerRow)
	for i, t := range s {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: ticket %d: %v", ErrInvalidSheet, i, err)
		}
		for _, n := range t.Numbers() {
			if _, dup := seen[n]; dup {
				return fmt.Errorf("%w: %d repeats", ErrInvalidSheet, n)
			}
			seen[n] = struct{}{}
		}
	}
	return nil
}

// Contains reports whether n is printed on any ticket of the sheet.
func (s Sheet) Contains(n int) bool {
	for _, t := range s {
		if t.Contains(n) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s Sheet) Clone() Sheet {
	if s == nil {
		return nil
	}
	out := make(Sheet, len(s))
	copy(out, s)
	return out
}

// HasCompleteRow reports whether some row has every number in called.
func (s Sheet) HasCompleteRow(called func(int) bool) bool {
	for _, t := range s {
		for r := 0; r < TicketRows; r++ {
			row := t.Row(r)
			if len(row) == 0 {
				continue
			}
			complete := true
			for _, n := range row {
				if !called(n) {
					complete = false
					break
				}
			}
			if complete {
				return true
			}
		}
	}
	return false
}
