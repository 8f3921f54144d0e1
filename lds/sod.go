package lds

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"go.mozilla.org/pkcs7"

	"mrtdreader/dictionaries"
	"mrtdreader/document"
)

// SOD is the decoded EF.SOD: the CMS SignedData envelope carrying the
// document signer certificate and the LDSSecurityObject (the per-DG
// hash table Passive Authentication compares file contents against).
type SOD struct {
	raw []byte

	p7 *pkcs7.PKCS7

	HashAlgorithm string
	DataGroupHash map[document.DataGroupID][]byte
}

func (s *SOD) ID() document.DataGroupID { return document.SOD }
func (s *SOD) Raw() []byte              { return s.raw }

// Certificates returns every certificate the SignedData envelope
// carries (normally just the document signer certificate, DSC).
func (s *SOD) Certificates() []*x509.Certificate { return s.p7.Certificates }

// SignerCertificate returns the DSC that produced the SOD signature,
// per CMS SignerInfo's issuer+serial identification.
func (s *SOD) SignerCertificate() (*x509.Certificate, error) {
	cert := s.p7.GetOnlySigner()
	if cert == nil {
		return nil, fmt.Errorf("lds: EF.SOD carries no identifiable signer certificate")
	}
	return cert, nil
}

// VerifySignature checks the CMS SignedData signature over the
// LDSSecurityObject content against the embedded signer certificate.
// It does not validate the certificate's issuance chain; that is
// masterlist/passiveauth's job.
func (s *SOD) VerifySignature() error {
	if err := s.p7.Verify(); err != nil {
		return fmt.Errorf("lds: EF.SOD signature verification failed: %w", err)
	}
	return nil
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type dataGroupHashEntry struct {
	Number int
	Hash   []byte
}

type ldsSecurityObject struct {
	Version             int
	HashAlgorithm       algorithmIdentifier
	DataGroupHashValues []dataGroupHashEntry
}

// DecodeSOD parses a raw EF.SOD file (outer tag 0x77 wrapping a CMS
// ContentInfo of type signedData).
func DecodeSOD(raw []byte) (*SOD, error) {
	node, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("lds: decode EF.SOD: %w", err)
	}
	if node.Tag != document.SOD.Tag() {
		return nil, fmt.Errorf("lds: EF.SOD outer tag = %02X, want %02X", node.Tag, document.SOD.Tag())
	}

	p7, err := pkcs7.Parse(node.Value)
	if err != nil {
		return nil, fmt.Errorf("lds: parse EF.SOD CMS SignedData: %w", err)
	}

	var lso ldsSecurityObject
	if _, err := asn1.Unmarshal(p7.Content, &lso); err != nil {
		return nil, fmt.Errorf("lds: decode LDSSecurityObject: %w", err)
	}

	sod := &SOD{
		raw:           raw,
		p7:            p7,
		HashAlgorithm: dictionaries.OIDName(lso.HashAlgorithm.Algorithm.String()),
		DataGroupHash: make(map[document.DataGroupID][]byte, len(lso.DataGroupHashValues)),
	}
	for _, e := range lso.DataGroupHashValues {
		dg, ok := dataGroupNumberToID(e.Number)
		if !ok {
			continue
		}
		sod.DataGroupHash[dg] = e.Hash
	}
	return sod, nil
}

// dataGroupNumberToID maps LDSSecurityObject's 1-based DG numbers (as
// opposed to document.DataGroupID's file-tag-keyed enumeration) onto
// document.DataGroupID.
func dataGroupNumberToID(n int) (document.DataGroupID, bool) {
	switch n {
	case 1:
		return document.DG1, true
	case 2:
		return document.DG2, true
	case 3:
		return document.DG3, true
	case 4:
		return document.DG4, true
	case 5:
		return document.DG5, true
	case 6:
		return document.DG6, true
	case 7:
		return document.DG7, true
	case 8:
		return document.DG8, true
	case 9:
		return document.DG9, true
	case 10:
		return document.DG10, true
	case 11:
		return document.DG11, true
	case 12:
		return document.DG12, true
	case 13:
		return document.DG13, true
	case 14:
		return document.DG14, true
	case 15:
		return document.DG15, true
	case 16:
		return document.DG16, true
	default:
		return 0, false
	}
}
