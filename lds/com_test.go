package lds

import (
	"testing"

	"mrtdreader/document"
)

func buildEFCOM(lds, unicode string, tags []byte) []byte {
	body := EncodeTag(0x5F01, []byte(lds))
	body = append(body, EncodeTag(0x5F36, []byte(unicode))...)
	body = append(body, Encode(0x5C, tags)...)
	return Encode(document.COM.Tag(), body)
}

func TestDecodeCOM(t *testing.T) {
	raw := buildEFCOM("0107", "040000", []byte{
		document.DG1.Tag(), document.DG2.Tag(), document.DG14.Tag(), document.DG15.Tag(), document.SOD.Tag(),
	})

	com, err := DecodeCOM(raw)
	if err != nil {
		t.Fatalf("DecodeCOM: %v", err)
	}
	if com.LDSVersion != "0107" {
		t.Errorf("LDSVersion = %q, want 0107", com.LDSVersion)
	}
	if com.UnicodeVersion != "040000" {
		t.Errorf("UnicodeVersion = %q, want 040000", com.UnicodeVersion)
	}
	want := map[document.DataGroupID]bool{
		document.DG1: true, document.DG2: true, document.DG14: true, document.DG15: true, document.SOD: true,
	}
	if len(com.DataGroups) != len(want) {
		t.Fatalf("DataGroups = %v, want 5 entries", com.DataGroups)
	}
	for _, dg := range com.DataGroups {
		if !want[dg] {
			t.Errorf("unexpected data group %v in tag list", dg)
		}
	}
	if len(com.UnknownDGTags) != 0 {
		t.Errorf("unexpected unknown tags: %X", com.UnknownDGTags)
	}
}

func TestDecodeCOMWrongOuterTag(t *testing.T) {
	raw := Encode(0x61, []byte{0x00})
	if _, err := DecodeCOM(raw); err == nil {
		t.Fatal("expected error for wrong outer tag")
	}
}

func TestDecodeCOMUnknownTag(t *testing.T) {
	raw := buildEFCOM("0107", "040000", []byte{document.DG1.Tag(), 0xFF})
	com, err := DecodeCOM(raw)
	if err != nil {
		t.Fatalf("DecodeCOM: %v", err)
	}
	if len(com.UnknownDGTags) != 1 || com.UnknownDGTags[0] != 0xFF {
		t.Fatalf("UnknownDGTags = %X, want [FF]", com.UnknownDGTags)
	}
}
