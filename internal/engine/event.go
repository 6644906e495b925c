package engine

// Event is a notable occurrence during a run.
type Event struct {
	Generation  int    `json:"generation" db:"generation"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"` // "death", "halt", etc.
}
