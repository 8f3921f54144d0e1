package lds

import "testing"

func TestDecodeSODWrongOuterTag(t *testing.T) {
	raw := Encode(0x61, []byte{0x00})
	if _, err := DecodeSOD(raw); err == nil {
		t.Fatal("expected error for wrong outer tag")
	}
}

func TestDecodeSODMalformedCMS(t *testing.T) {
	raw := Encode(0x77, []byte{0x01, 0x02, 0x03})
	if _, err := DecodeSOD(raw); err == nil {
		t.Fatal("expected error decoding non-CMS content")
	}
}

func TestDataGroupNumberToID(t *testing.T) {
	tests := []struct {
		n  int
		ok bool
	}{
		{1, true}, {16, true}, {0, false}, {17, false},
	}
	for _, tc := range tests {
		_, ok := dataGroupNumberToID(tc.n)
		if ok != tc.ok {
			t.Errorf("dataGroupNumberToID(%d) ok = %v, want %v", tc.n, ok, tc.ok)
		}
	}
}
