// Package output renders read results to a terminal, using the same
// go-pretty table/text primitives and visual style the teacher's SIM
// tooling used for its USIM/ISIM dumps, generalized here to the eMRTD
// document.Result aggregate.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"mrtdreader/document"
	"mrtdreader/lds"
)

// Color styles
var (
	colorHeader = text.Colors{text.FgCyan, text.Bold}
	colorLabel  = text.Colors{text.FgYellow}
	colorValue  = text.Colors{text.FgWhite}
	colorOK     = text.Colors{text.FgGreen}
	colorFailed = text.Colors{text.FgRed}
	colorWarn   = text.Colors{text.FgYellow}
	colorSkip   = text.Colors{text.FgHiBlack}
)

// getTableStyle returns the default table style
func getTableStyle() table.Style {
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Color.Row = text.Colors{text.FgWhite}
	style.Color.RowAlternate = text.Colors{text.FgHiWhite}
	style.Options.SeparateRows = false
	return style
}

// newTable creates a new table writer with default settings
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(getTableStyle())
	t.Style().Options.SeparateRows = false
	return t
}

// PrintReaderInfo prints the connected reader's name and ATR.
func PrintReaderInfo(readerName, atr string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("READER & CARD INFO")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"Reader", readerName})
	t.AppendRow(table.Row{"ATR", atr})
	t.Render()
}

// PrintReaderList prints available readers
func PrintReaderList(readers []string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AVAILABLE SMART CARD READERS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 8},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})

	if len(readers) == 0 {
		t.AppendRow(table.Row{"Status", colorWarn.Sprint("No readers found")})
	} else {
		for i, r := range readers {
			t.AppendRow(table.Row{fmt.Sprintf("[%d]", i), r})
		}
	}
	t.Render()
}

func statusColor(s document.Status) text.Colors {
	switch s {
	case document.Success:
		return colorOK
	case document.Failed:
		return colorFailed
	default:
		return colorSkip
	}
}

// PrintDocumentSummary renders the outcome of every authentication phase
// the orchestrator ran, in the fixed row order BAC/PACE/CA/AA/PA (the
// orchestrator itself tries PACE before BAC).
func PrintDocumentSummary(result *document.Result) {
	fmt.Println()
	t := newTable()
	t.SetTitle("DOCUMENT READ SUMMARY")
	t.AppendHeader(table.Row{"Phase", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 28},
		{Number: 2, WidthMin: 15},
	})

	row := func(name string, s document.Status) {
		t.AppendRow(table.Row{name, statusColor(s).Sprint(s)})
	}
	row("Basic Access Control", result.BACStatus)
	row("Password Authenticated Connection Establishment", result.PACEStatus)
	row("Chip Authentication", result.ChipAuthenticationStatus)
	row("Active Authentication", result.ActiveAuthenticationStatus)
	row("Passive Authentication", result.PassiveAuthenticationStatus)
	t.Render()
}

// PrintDataGroups lists every data group the read produced, sorted by
// DataGroupID, along with its raw file size and (for DG1) the decoded
// MRZ text.
func PrintDataGroups(result *document.Result) {
	fmt.Println()
	t := newTable()
	t.SetTitle("DATA GROUPS READ")
	t.AppendHeader(table.Row{"Data Group", "Size (bytes)", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 12},
		{Number: 2, WidthMin: 12},
		{Number: 3, Colors: colorValue, WidthMax: 60},
	})

	ids := make([]document.DataGroupID, 0, len(result.DataGroups))
	for id := range result.DataGroups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		dg := result.DataGroups[id]
		t.AppendRow(table.Row{id.String(), len(dg.Raw()), dataGroupDetail(dg)})
	}
	if len(ids) == 0 {
		t.AppendRow(table.Row{"(none)", "", ""})
	}
	t.Render()
}

// dataGroupDetail renders a short human-readable summary of the data
// groups this package knows how to decode structurally; everything
// else (including the Generic fallback) shows no detail beyond size.
func dataGroupDetail(dg document.DataGroup) string {
	switch v := dg.(type) {
	case *lds.DG1:
		return strings.ReplaceAll(v.MRZ, "\n", " / ")
	case *lds.DG2:
		return fmt.Sprintf("%d biometric image(s)", len(v.Images))
	case *lds.DG7:
		return fmt.Sprintf("%d signature/mark image(s)", len(v.Images))
	case *lds.DG11:
		return strings.TrimSpace(strings.ReplaceAll(v.FullName, "<", " "))
	case *lds.DG12:
		return v.IssuingAuthority
	default:
		return ""
	}
}

// PrintVerificationErrors lists the non-fatal errors the read recorded
// against optional/auto-included data groups instead of aborting.
func PrintVerificationErrors(result *document.Result) {
	if len(result.VerificationErrors) == 0 {
		return
	}
	fmt.Println()
	t := newTable()
	t.SetTitle("VERIFICATION ERRORS")
	t.AppendHeader(table.Row{"#", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 4},
		{Number: 2, Colors: colorWarn, WidthMax: 70},
	})
	for i, e := range result.VerificationErrors {
		t.AppendRow(table.Row{i + 1, e.Error()})
	}
	t.Render()
}

// PrintRawData prints raw hex data for every data group, for debugging.
func PrintRawData(result *document.Result) {
	fmt.Println()
	t := newTable()
	t.SetTitle("RAW FILE DATA (HEX)")
	t.AppendHeader(table.Row{"File", "Data (hex)"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 15},
		{Number: 2, Colors: colorValue, WidthMax: 80},
	})

	ids := make([]document.DataGroupID, 0, len(result.DataGroups))
	for id := range result.DataGroups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t.AppendRow(table.Row{id.String(), fmt.Sprintf("%X", result.DataGroups[id].Raw())})
	}
	t.Render()
}

// PrintError prints an error message
func PrintError(msg string) {
	fmt.Println(colorFailed.Sprintf("✗ Error: %s", msg))
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	fmt.Println(colorOK.Sprintf("✓ %s", msg))
}

// PrintWarning prints a warning message
func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}
