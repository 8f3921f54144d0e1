// Package masterlist decodes a CSCA (Country Signing Certificate
// Authority) master list blob into an index the passiveauth package
// queries when building a Document Signer Certificate's issuance
// chain. A master list is opaque to every other package beyond
// CertificatesByIssuer and ByKeyIdentifier lookups.
//
// Grounded on the teacher's dictionaries/embed.go: a flat collection
// loaded once from an embedded or caller-supplied blob and indexed by
// a small set of lookup keys, rather than re-parsed per query.
package masterlist

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// MasterList is an unordered collection of CSCA certificates, indexed
// by Subject distinguished name and by hex-encoded
// SubjectKeyIdentifier (the two lookup keys an Authority Key
// Identifier extension on a Document Signer Certificate can carry).
type MasterList struct {
	certs []*x509.Certificate

	bySubject [][]byte // parallel to certs: RawSubject, for linear issuer scan
	byKeyID   map[string]*x509.Certificate
}

// Certificates returns every CSCA certificate the list carries.
func (m *MasterList) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), m.certs...)
}

// ByKeyIdentifier looks up a CSCA certificate by the hex-encoded
// SubjectKeyIdentifier an issuing DSC's AuthorityKeyId extension
// names.
func (m *MasterList) ByKeyIdentifier(keyID []byte) (*x509.Certificate, bool) {
	cert, ok := m.byKeyID[hex.EncodeToString(keyID)]
	return cert, ok
}

// CertificatesByIssuer returns every CSCA certificate whose Subject
// matches issuerRawDN, the set a chain builder must try when no
// AuthorityKeyId extension narrows the search to one candidate.
func (m *MasterList) CertificatesByIssuer(issuerRawDN []byte) []*x509.Certificate {
	var out []*x509.Certificate
	for i, subj := range m.bySubject {
		if string(subj) == string(issuerRawDN) {
			out = append(out, m.certs[i])
		}
	}
	return out
}

// cscaMasterList mirrors ICAO 9303 Part 12's CscaMasterList ASN.1
// structure: a version field plus a SET OF Certificate, itself wrapped
// in a CMS SignedData content (the master list is distributed signed
// by a list signer, though this package only unwraps it — verifying
// that signature against a separate national list-signer trust anchor
// is out of scope, per spec.md's "certificate/master-list loading from
// disk" being an external collaborator).
type cscaMasterList struct {
	Version      int
	Certificates []asn1.RawValue `asn1:"set"`
}

// Load decodes a master list blob, accepting either a raw CMS
// SignedData envelope (ICAO 9303 Part 12 distribution format) or a
// bare PEM bundle of CSCA certificates, whichever the caller has on
// hand.
func Load(blob []byte) (*MasterList, error) {
	var certs []*x509.Certificate

	if looksLikePEM(blob) {
		rest := blob
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("masterlist: parse PEM certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		p7, err := pkcs7.Parse(blob)
		if err != nil {
			return nil, fmt.Errorf("masterlist: parse CMS SignedData envelope: %w", err)
		}
		var cml cscaMasterList
		if _, err := asn1.Unmarshal(p7.Content, &cml); err != nil {
			return nil, fmt.Errorf("masterlist: decode CscaMasterList: %w", err)
		}
		for _, raw := range cml.Certificates {
			cert, err := x509.ParseCertificate(raw.FullBytes)
			if err != nil {
				return nil, fmt.Errorf("masterlist: parse CSCA certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	}

	m := &MasterList{
		certs:     certs,
		bySubject: make([][]byte, len(certs)),
		byKeyID:   make(map[string]*x509.Certificate, len(certs)),
	}
	for i, cert := range certs {
		m.bySubject[i] = cert.RawSubject
		if len(cert.SubjectKeyId) > 0 {
			m.byKeyID[hex.EncodeToString(cert.SubjectKeyId)] = cert
		}
	}
	return m, nil
}

func looksLikePEM(blob []byte) bool {
	for _, b := range blob {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '-':
			return true
		default:
			return false
		}
	}
	return false
}
