package apdu_test

import (
	"bytes"
	"testing"

	"mrtdreader/apdu"
)

func TestCommandBytesShortForm(t *testing.T) {
	cases := []struct {
		name string
		cmd  apdu.Command
		want []byte
	}{
		{
			name: "select with data and Le",
			cmd:  apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x02, P2: 0x0C, Data: []byte{0x01, 0x1E}, Le: 0},
			want: []byte{0x00, 0xA4, 0x02, 0x0C, 0x02, 0x01, 0x1E, 0x00},
		},
		{
			name: "no data, Le=256",
			cmd:  apdu.Command{CLA: 0x00, INS: 0xB0, P1: 0x00, P2: 0x00, Le: 256},
			want: []byte{0x00, 0xB0, 0x00, 0x00, 0x00},
		},
		{
			name: "data only, no Le",
			cmd:  apdu.Command{CLA: 0x0C, INS: 0x88, P1: 0x00, P2: 0x00, Data: []byte{0xAA, 0xBB}, Le: -1},
			want: []byte{0x0C, 0x88, 0x00, 0x00, 0x02, 0xAA, 0xBB},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cmd.Bytes()
			if !bytes.Equal(got, tc.want) {
				t.Errorf("Bytes() = % X, want % X", got, tc.want)
			}
		})
	}
}

func TestCommandBytesExtendedForm(t *testing.T) {
	data := bytes.Repeat([]byte{0x41}, 300)
	cmd := apdu.Command{CLA: 0x00, INS: 0xD6, P1: 0x00, P2: 0x00, Data: data, Le: -1}
	got := cmd.Bytes()
	if got[4] != 0x00 {
		t.Fatalf("extended indicator missing: % X", got[:8])
	}
	lc := int(got[5])<<8 | int(got[6])
	if lc != len(data) {
		t.Fatalf("extended Lc = %d, want %d", lc, len(data))
	}
}

func TestParseAndClassify(t *testing.T) {
	resp, err := apdu.Parse([]byte{0x01, 0x02, 0x90, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsOK() {
		t.Fatal("expected OK")
	}
	if resp.Err() != nil {
		t.Fatalf("expected no error, got %v", resp.Err())
	}

	resp2, _ := apdu.Parse([]byte{0x69, 0x82})
	if resp2.Err() == nil {
		t.Fatal("expected error for 6982")
	}
	if apdu.Classify(resp2.SW()) != "Security status not satisfied" {
		t.Fatalf("unexpected classification: %s", apdu.Classify(resp2.SW()))
	}

	resp3, _ := apdu.Parse([]byte{0x61, 0x1A})
	if !resp3.HasMoreData() {
		t.Fatal("expected HasMoreData")
	}

	resp4, _ := apdu.Parse([]byte{0x6C, 0x0A})
	if !resp4.NeedsRetry() {
		t.Fatal("expected NeedsRetry")
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := apdu.Parse([]byte{0x90}); err == nil {
		t.Fatal("expected error for short response")
	}
}
