// Package payoff provides the 2x2 payoff matrix used by the two-strategy games.
package payoff

import (
	"fmt"
	"math"
)

// Matrix holds the expected gain for each pairing of two strategies.
// Rows are the focal player's strategy, columns the opponent's.
type Matrix [2][2]float64

// At returns the payoff for row strategy i against column strategy j.
func (m Matrix) At(i, j int) float64 {
	return m[i][j]
}

// Add accumulates v into cell (i, j).
func (m *Matrix) Add(i, j int, v float64) {
	m[i][j] += v
}

// Total returns the sum of all cells.
func (m Matrix) Total() float64 {
	return m[0][0] + m[0][1] + m[1][0] + m[1][1]
}

// NonNegative reports whether every cell is finite and >= 0.
func (m Matrix) NonNegative() bool {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v := m[i][j]
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Table is a labelled matrix ready for a heatmap renderer.
type Table struct {
	Title  string        `json:"title"`
	Rows   [2]string     `json:"rows"`
	Cols   [2]string     `json:"cols"`
	Values [2][2]float64 `json:"values"`
}

// Labelled attaches row and column labels to the matrix.
func (m Matrix) Labelled(title string, rows, cols [2]string) Table {
	return Table{Title: title, Rows: rows, Cols: cols, Values: m}
}

// String renders the matrix as two bracketed rows.
func (m Matrix) String() string {
	return fmt.Sprintf("[[%g %g] [%g %g]]", m[0][0], m[0][1], m[1][0], m[1][1])
}
