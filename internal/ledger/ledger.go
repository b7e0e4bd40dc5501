// Package ledger owns the persisted state of the application: the capped
// history of committed calculations, the category set, and the small
// settings slots (theme, active view).
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// MaxEntries caps the history ledger. Appending beyond the cap evicts
// the oldest entries.
const MaxEntries = 50

// EntryType classifies how a history entry was produced.
type EntryType string

const (
	// TypeScan marks an entry committed from a reconciled receipt scan.
	TypeScan EntryType = "scan"
	// TypeManual marks an entry produced by the calculator's equals.
	TypeManual EntryType = "manual"
	// TypeExpense marks an entry added through the manual expense form.
	TypeExpense EntryType = "expense"
)

// Entry is one committed history record. Entries are immutable after
// creation except for category renames, which cascade in place.
type Entry struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Total       float64   `json:"total"`
	Type        EntryType `json:"type"`
	Calculation string    `json:"calculation,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	ImageFile   string    `json:"image_file,omitempty"`
	ImageType   string    `json:"image_type,omitempty"`
}

// csvHeader is the fixed column order of the export surface.
var csvHeader = []string{"ID", "Date", "Type", "Total", "Description", "Calculation", "Category"}

// ExportCSV writes entries as RFC 4180 CSV, oldest first. entries is
// expected newest-first, as returned by ListEntries.
func ExportCSV(w io.Writer, entries []*Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		record := []string{
			entry.ID,
			entry.Date.Format(time.RFC3339),
			string(entry.Type),
			strconv.FormatFloat(entry.Total, 'f', 2, 64),
			entry.Description,
			entry.Calculation,
			entry.Category,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// Round2 rounds a total to 2 decimal places, the precision every amount
// carries once it crosses a commit boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
