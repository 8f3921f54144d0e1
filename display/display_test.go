package display

import (
	"strings"
	"testing"

	"mrtdreader/document"
	"mrtdreader/mrtderr"
)

func TestProgressBlockClampsAndFillsCells(t *testing.T) {
	cases := []struct {
		name       string
		percent    int
		wantFilled int
	}{
		{"zero", 0, 0},
		{"partial", 45, 2},
		{"exact", 60, 3},
		{"full", 100, 5},
		{"over", 150, 5},
		{"negative", -10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := progressBlock("Authenticating", tc.percent)
			if got := strings.Count(text, filledCell); got != tc.wantFilled {
				t.Errorf("filled cells = %d, want %d (text=%q)", got, tc.wantFilled, text)
			}
			if got := strings.Count(text, emptyCell); got != barCells-tc.wantFilled {
				t.Errorf("empty cells = %d, want %d", got, barCells-tc.wantFilled)
			}
		})
	}
}

func TestDefaultTextPerVariant(t *testing.T) {
	if (RequestPresent{}).DefaultText() == "" {
		t.Error("RequestPresent.DefaultText() empty")
	}
	if got := (ReadingDataGroup{DataGroup: document.DG1, Percent: 100}).DefaultText(); !strings.Contains(got, "DG1") {
		t.Errorf("ReadingDataGroup.DefaultText() = %q, want it to mention DG1", got)
	}
	if got := SuccessfulRead{}.DefaultText(); got != "NFC read successfully" {
		t.Errorf("SuccessfulRead.DefaultText() = %q", got)
	}
	err := Error{Err: mrtderr.NewDesc(mrtderr.KindInvalidMRZKey, "ignored")}
	if got := err.DefaultText(); got != "MRZ Key not valid for this document." {
		t.Errorf("Error.DefaultText() = %q", got)
	}
}
