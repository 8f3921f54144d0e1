// Package display renders the reader core's progress and outcome
// messages for a human terminal, using the same go-pretty text
// styling primitives the teacher's output/table.go uses for SIM data,
// generalized from static tables to a live progress stream.
package display

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"

	"mrtdreader/document"
	"mrtdreader/mrtderr"
)

// Message is the closed variant set the session orchestrator emits
// during a read. Exactly one concrete type per spec.md §6's
// DisplayMessage list.
type Message interface {
	// DefaultText renders the English default the host may accept as-is
	// or override.
	DefaultText() string
}

// RequestPresent asks the user to present the document to the reader.
type RequestPresent struct{}

func (RequestPresent) DefaultText() string {
	return "Please hold the document to the top of the phone."
}

// Authenticating reports progress through the BAC/PACE/CA handshake
// phase, pct clamped to [0,100].
type Authenticating struct{ Percent int }

func (m Authenticating) DefaultText() string {
	return progressBlock("Authenticating", m.Percent)
}

// ReadingDataGroup reports progress reading a single data group file.
type ReadingDataGroup struct {
	DataGroup document.DataGroupID
	Percent   int
}

func (m ReadingDataGroup) DefaultText() string {
	return progressBlock(fmt.Sprintf("Reading %s", m.DataGroup), m.Percent)
}

// Error reports a terminal or recovered error, rendered per spec.md
// §7's per-Kind text table (mrtderr.Error.DefaultMessage).
type Error struct{ Err *mrtderr.Error }

func (m Error) DefaultText() string {
	if m.Err == nil {
		return "Sorry, there was a problem reading the Document. Please try again"
	}
	return m.Err.DefaultMessage()
}

// SuccessfulRead reports that the full read completed.
type SuccessfulRead struct{}

func (SuccessfulRead) DefaultText() string { return "NFC read successfully" }

const (
	barCells       = 5
	percentPerCell = 100 / barCells
	filledCell     = "🔵 "
	emptyCell      = "⚪️ "
)

// progressBlock renders "<label>.....\n\n" followed by a 5-cell bar,
// one cell per 20%, matching spec.md §6's layout exactly.
func progressBlock(label string, percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent / percentPerCell
	if filled > barCells {
		filled = barCells
	}

	var bar strings.Builder
	for i := 0; i < barCells; i++ {
		if i < filled {
			bar.WriteString(filledCell)
		} else {
			bar.WriteString(emptyCell)
		}
	}
	return fmt.Sprintf("%s.....\n\n%s", label, bar.String())
}

// Colors mirrors the teacher's output package's text.Colors palette,
// reused here so a CLI rendering these messages stays visually
// consistent with the rest of the tool.
var (
	ColorLabel   = text.Colors{text.FgYellow}
	ColorSuccess = text.Colors{text.FgGreen}
	ColorError   = text.Colors{text.FgRed}
)
