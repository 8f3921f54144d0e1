package dictionaries

import "testing"

func TestLookupOIDKnown(t *testing.T) {
	tests := []struct {
		oid      string
		wantName string
		wantKind string
	}{
		{"0.4.0.127.0.7.2.2.4.2.2", "id-PACE-ECDH-GM-AES-CBC-CMAC-128", "PACE"},
		{"0.4.0.127.0.7.2.2.3.2", "id-CA-ECDH", "CA"},
		{"2.23.136.1.1.1", "id-icao-mrtd-security-aaProtocolObject", "AA"},
		{"2.16.840.1.101.3.4.2.1", "sha256", "hash"},
	}
	for _, tc := range tests {
		e, ok := LookupOID(tc.oid)
		if !ok {
			t.Fatalf("LookupOID(%s): not found", tc.oid)
		}
		if e.Name != tc.wantName {
			t.Errorf("LookupOID(%s).Name = %q, want %q", tc.oid, e.Name, tc.wantName)
		}
		if e.Kind != tc.wantKind {
			t.Errorf("LookupOID(%s).Kind = %q, want %q", tc.oid, e.Kind, tc.wantKind)
		}
	}
}

func TestLookupOIDUnknown(t *testing.T) {
	if _, ok := LookupOID("1.2.3.4.5.6.7.8.9"); ok {
		t.Fatal("expected unknown OID to miss")
	}
}

func TestOIDName(t *testing.T) {
	if got := OIDName("2.16.840.1.101.3.4.2.1"); got != "sha256" {
		t.Errorf("OIDName = %q, want sha256", got)
	}
	if got := OIDName("9.9.9"); got != "9.9.9" {
		t.Errorf("OIDName fallback = %q, want input echoed back", got)
	}
}

func TestHasPACEParameterID(t *testing.T) {
	if !HasPACEParameterID("0.4.0.127.0.7.2.2.4.2.2") {
		t.Error("expected PACE OID to be recognized")
	}
	if HasPACEParameterID("0.4.0.127.0.7.2.2.3.2") {
		t.Error("CA OID should not be classified as PACE")
	}
}
