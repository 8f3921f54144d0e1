package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"testing"

	"mrtdreader/display"
	"mrtdreader/document"
	"mrtdreader/lds"
	"mrtdreader/mrtderr"
	"mrtdreader/tagreader"
	"mrtdreader/transport"
)

func TestClassifyReadError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want readAction
	}{
		{"plain error", context.DeadlineExceeded, actionRetryVerbatim},
		{"SM error", mrtderr.New(mrtderr.KindSMError, context.DeadlineExceeded), actionReestablishBAC},
		{"SM data objects incorrect", mrtderr.NewResponseError("SM data objects incorrect", 0x69, 0x88), actionReestablishBAC},
		{"security not satisfied", mrtderr.NewResponseError("Security status not satisfied", 0x69, 0x82), actionDropDataGroup},
		{"file not found", mrtderr.NewResponseError("File not found", 0x6A, 0x82), actionDropDataGroup},
		{"class not supported", mrtderr.NewResponseError("Class not supported", 0x6E, 0x00), actionReestablishBAC},
		{"wrong length", mrtderr.NewResponseError("Wrong length", 0x67, 0x00), actionRetrySmaller},
		{"wrong Le", mrtderr.NewResponseError("retry with Le=10", 0x6C, 0x0A), actionRetrySmaller},
		{"unrelated response error", mrtderr.NewResponseError("Conditions of use not satisfied", 0x69, 0x85), actionRetryVerbatim},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyReadError(tc.err); got != tc.want {
				t.Errorf("classifyReadError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestEffectiveDataGroupListDefaultsToAdvertised(t *testing.T) {
	com := &lds.COM{DataGroups: []document.DataGroupID{document.DG1, document.DG2, document.DG3, document.DG14, document.DG15}}

	got := effectiveDataGroupList(com, nil, true)
	want := []document.DataGroupID{document.DG1, document.DG2, document.DG14, document.DG15}
	if !sameDGList(got, want) {
		t.Errorf("effectiveDataGroupList(nil, skipSecureElements=true) = %v, want %v", got, want)
	}

	got2 := effectiveDataGroupList(com, nil, false)
	want2 := []document.DataGroupID{document.DG1, document.DG2, document.DG3, document.DG14, document.DG15}
	if !sameDGList(got2, want2) {
		t.Errorf("effectiveDataGroupList(nil, skipSecureElements=false) = %v, want %v", got2, want2)
	}
}

func TestEffectiveDataGroupListIntersectsRequested(t *testing.T) {
	com := &lds.COM{DataGroups: []document.DataGroupID{document.DG1, document.DG2, document.DG14}}

	got := effectiveDataGroupList(com, []document.DataGroupID{document.DG1, document.DG11}, false)
	want := []document.DataGroupID{document.DG1}
	if !sameDGList(got, want) {
		t.Errorf("effectiveDataGroupList(requested=[DG1,DG11]) = %v, want %v (DG11 is not advertised)", got, want)
	}
}

func sameDGList(a, b []document.DataGroupID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scriptedTransport answers SELECT/READ BINARY with a fixed queue of
// raw responses, the transport.Transport-level counterpart to
// tagreader's own test fixtures: it lets readDataGroupWithRetry be
// exercised against a real *tagreader.Reader without a live card.
type scriptedTransport struct {
	t         *testing.T
	responses [][]byte
	calls     int
	onCall    func(calls int, cmd []byte)
}

func (s *scriptedTransport) Connect(ctx context.Context) error { return nil }

func (s *scriptedTransport) Transceive(ctx context.Context, cmd []byte) ([]byte, error) {
	if s.onCall != nil {
		s.onCall(s.calls, cmd)
	}
	s.calls++
	if len(s.responses) == 0 {
		s.t.Fatalf("scriptedTransport: no more scripted responses (call %d)", s.calls)
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedTransport) Invalidate(message string) {}

var _ transport.Transport = (*scriptedTransport)(nil)

// dg1File encodes a minimal valid DG1 (outer tag 0x61 wrapping the MRZ
// data element, tag 0x5F1F) for use as a scripted READ BINARY payload.
func dg1File(mrz string) []byte {
	inner := lds.EncodeTag(0x5F1F, []byte(mrz))
	return lds.Encode(document.DG1.Tag(), inner)
}

// TestReadDataGroupWithRetryDropsOnAccessDenied checks that an access
// -denial status aborts the data group immediately rather than
// retrying it, per classifyReadError's actionDropDataGroup verdict.
func TestReadDataGroupWithRetryDropsOnAccessDenied(t *testing.T) {
	tr := &scriptedTransport{
		t: t,
		responses: [][]byte{
			{0x69, 0x82}, // SELECT DG1 denied
		},
	}
	reader := tagreader.New(tr)
	s := &Session{Transport: tr}

	_, err := s.readDataGroupWithRetry(context.Background(), reader, document.DG1, "irrelevant")
	if err == nil {
		t.Fatal("expected an error for an access-denied SELECT")
	}
	if action := classifyReadError(err); action != actionDropDataGroup {
		t.Fatalf("classifyReadError(err) = %v, want actionDropDataGroup", action)
	}
	if tr.calls != 1 {
		t.Errorf("transport was called %d times, want exactly 1 (no retry on a dropped data group)", tr.calls)
	}
}

// TestReadDataGroupWithRetrySucceedsOnSecondAttempt checks the
// verbatim-retry path: an arbitrary connection hiccup on the first
// SELECT succeeds when retried exactly once.
func TestReadDataGroupWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	dg1 := dg1File("P<TESTLAND<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<")
	tr := &scriptedTransport{
		t: t,
		responses: [][]byte{
			{0x6F, 0x00}, // SELECT DG1 fails with an unrecognized status (not P1P2, not denial)
			{0x90, 0x00}, // SELECT DG1 retried, succeeds
			append(append([]byte{}, dg1...), 0x90, 0x00), // READ BINARY returns the whole file in one chunk
		},
	}
	reader := tagreader.New(tr)
	s := &Session{Transport: tr}

	dg, err := s.readDataGroupWithRetry(context.Background(), reader, document.DG1, "irrelevant")
	if err != nil {
		t.Fatalf("readDataGroupWithRetry: %v", err)
	}
	if dg.ID() != document.DG1 {
		t.Errorf("ID() = %v, want DG1", dg.ID())
	}
}

// caInfoASN1 and caPublicKeyInfoASN1 mirror the SecurityInfo shapes
// lds.decodeOneSecurityInfo expects, so dg14FileWithCAKey can build a
// minimal-but-real DG14 file without needing any lds-package export
// beyond Encode.
type caInfoASN1 struct {
	OID     asn1.ObjectIdentifier
	Version int
}

type caPublicKeyInfoASN1 struct {
	OID       asn1.ObjectIdentifier
	PublicKey asn1.RawValue
}

// dg14FileWithCAKey builds a DG14 file advertising ECDH/AES-128 Chip
// Authentication over a freshly generated P-256 static key, so
// handshake.RunChipAuth has a real key to fail against once the MSE:SET
// AT step itself is scripted to return a non-OK status.
func dg14FileWithCAKey(t *testing.T) []byte {
	t.Helper()
	curve := elliptic.P256()
	priv, x, y, err := elliptic.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate static CA keypair: %v", err)
	}
	_ = priv
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal static CA public key: %v", err)
	}
	var pubRV asn1.RawValue
	if _, err := asn1.Unmarshal(pubDER, &pubRV); err != nil {
		t.Fatalf("re-parse SubjectPublicKeyInfo: %v", err)
	}

	caInfo, err := asn1.Marshal(caInfoASN1{
		OID:     asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3, 2, 2}, // id-CA-ECDH-AES-CBC-CMAC-128
		Version: 1,
	})
	if err != nil {
		t.Fatalf("marshal CAInfo: %v", err)
	}
	caPubKeyInfo, err := asn1.Marshal(caPublicKeyInfoASN1{
		OID:       asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 1, 2}, // id-CA-ECDH-PublicKeyInfo
		PublicKey: pubRV,
	})
	if err != nil {
		t.Fatalf("marshal ChipAuthenticationPublicKeyInfo: %v", err)
	}

	set := lds.Encode(0x31, append(append([]byte{}, caInfo...), caPubKeyInfo...))
	return lds.Encode(document.DG14.Tag(), set)
}

// TestChipAuthenticationFailureReestablishesBAC scripts a DG14 read
// that succeeds, followed by an MSE:SET AT (Chip Authentication)
// rejection. It checks that runChipAuthentication does not just record
// the failure and fall through under the dead channel: it must drive a
// fresh BAC exchange (GET CHALLENGE first) before returning.
func TestChipAuthenticationFailureReestablishesBAC(t *testing.T) {
	dg14 := dg14FileWithCAKey(t)

	var insSequence []byte
	tr := &scriptedTransport{
		t: t,
		responses: [][]byte{
			{0x90, 0x00}, // SELECT DG14
			append(append([]byte{}, dg14...), 0x90, 0x00), // READ BINARY DG14
			{0x6A, 0x88}, // MSE:SET AT (Chip Authentication) rejected
			{0x6A, 0x88}, // GET CHALLENGE (BAC) also rejected - BAC is still attempted
		},
		onCall: func(calls int, cmd []byte) {
			if len(cmd) > 1 {
				insSequence = append(insSequence, cmd[1])
			}
		},
	}
	reader := tagreader.New(tr)
	s := &Session{Transport: tr}
	result := &document.Result{DataGroups: make(map[document.DataGroupID]document.DataGroup)}
	toRead := []document.DataGroupID{document.DG14}

	s.runChipAuthentication(context.Background(), reader, &toRead, result, "irrelevant", func(display.Message) {})

	if result.ChipAuthenticationStatus != document.Failed {
		t.Errorf("ChipAuthenticationStatus = %v, want Failed", result.ChipAuthenticationStatus)
	}
	if tr.calls != 4 {
		t.Fatalf("transport was called %d times, want exactly 4 (SELECT+READ DG14, MSE:SET AT, GET CHALLENGE)", tr.calls)
	}
	if len(insSequence) < 4 || insSequence[2] != 0x22 || insSequence[3] != 0x84 {
		t.Errorf("instruction sequence = %X, want [.., .., 0x22 (MSE:SET AT), 0x84 (GET CHALLENGE)] - CA failure must be followed by a BAC attempt, not silence", insSequence)
	}
	if result.BACStatus != document.Failed {
		t.Errorf("BACStatus = %v, want Failed (the scripted GET CHALLENGE also fails)", result.BACStatus)
	}
}

func TestNewSessionWiresTransportAndOptions(t *testing.T) {
	tr := &scriptedTransport{t: t}
	s := New(tr, Options{RequireMasterList: true})
	if s.Transport != tr {
		t.Error("New did not wire the given transport through")
	}
	if !s.Options.RequireMasterList {
		t.Error("New did not wire Options through")
	}
}
