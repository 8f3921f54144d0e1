package lds

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"fmt"

	"mrtdreader/document"
)

// Generic is the fallback DataGroup implementation for files this
// package has no dedicated decoder for (DG3, DG4, DG5, DG6, DG8..DG10,
// DG13, DG16): the orchestrator still needs Raw() for hashing against
// the SOD even when it has no structured view into the payload.
type Generic struct {
	id  document.DataGroupID
	raw []byte
}

func (g *Generic) ID() document.DataGroupID { return g.id }
func (g *Generic) Raw() []byte              { return g.raw }

// Hash returns the digest of the raw file contents under the given
// algorithm, the quantity Passive Authentication compares against the
// EF.SOD's per-DG hash table.
func Hash(dg document.DataGroup, h crypto.Hash) ([]byte, error) {
	hasher := h.New()
	if _, err := hasher.Write(dg.Raw()); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}

// HashByOIDName picks the digest algorithm from the name the SOD's
// hashAlgorithm AlgorithmIdentifier decoded to (dictionaries.OIDName).
func HashByOIDName(dg document.DataGroup, name string) ([]byte, error) {
	switch name {
	case "sha1":
		return Hash(dg, crypto.SHA1)
	case "sha256":
		return Hash(dg, crypto.SHA256)
	case "sha384":
		return Hash(dg, crypto.SHA384)
	case "sha512":
		return Hash(dg, crypto.SHA512)
	case "sha224":
		return Hash(dg, crypto.SHA224)
	default:
		return nil, fmt.Errorf("lds: unsupported hash algorithm %q", name)
	}
}

// DG1 is the Machine Readable Zone data group: the raw MRZ text the
// same key derivation in handshake.DeriveMRZKey consumes.
type DG1 struct {
	raw []byte
	MRZ string
}

func (d *DG1) ID() document.DataGroupID { return document.DG1 }
func (d *DG1) Raw() []byte              { return d.raw }

// tag for the MRZ data element nested inside DG1's outer 0x61.
const tagMRZData = 0x5F1F

func decodeDG1(raw []byte) (*DG1, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG1: %w", err)
	}
	children, err := root.Children()
	if err != nil {
		return nil, fmt.Errorf("decode DG1 body: %w", err)
	}
	for _, n := range children {
		if fullTag(n) == tagMRZData {
			return &DG1{raw: raw, MRZ: string(n.Value)}, nil
		}
	}
	return nil, fmt.Errorf("decode DG1: missing MRZ data element (tag %04X)", tagMRZData)
}

// tags for the CBEFF Biometric Data Block nested inside DG2/DG7's
// Biometric Information Template structures.
const (
	tagBiometricInfoTemplateGroup = 0x7F61
	tagBiometricInfoTemplate      = 0x7F60
	tagBiometricDataBlock         = 0x5F2E
	tagBiometricDataBlock2        = 0x7F2E // alternate encoding some issuers use
	tagSignatureImage             = 0x5F43
)

// DG2 is the biometric facial image data group: one or more CBEFF
// Biometric Data Blocks, each an ISO/IEC 19794-5-wrapped JPEG or
// JPEG2000 image. This package does not unwrap the CBEFF/ISO 19794-5
// header; Images holds each block's raw bytes as presented, which is
// all Passive Authentication's hash comparison and a viewer need.
type DG2 struct {
	raw    []byte
	Images [][]byte
}

func (d *DG2) ID() document.DataGroupID { return document.DG2 }
func (d *DG2) Raw() []byte              { return d.raw }

func decodeDG2(raw []byte) (*DG2, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG2: %w", err)
	}
	images, err := findBiometricDataBlocks(root)
	if err != nil {
		return nil, fmt.Errorf("decode DG2 body: %w", err)
	}
	return &DG2{raw: raw, Images: images}, nil
}

// DG7 is the displayed signature or usual mark image data group: one
// or more images under tag 5F43, same raw-bytes-only treatment as DG2.
type DG7 struct {
	raw    []byte
	Images [][]byte
}

func (d *DG7) ID() document.DataGroupID { return document.DG7 }
func (d *DG7) Raw() []byte              { return d.raw }

func decodeDG7(raw []byte) (*DG7, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG7: %w", err)
	}
	children, err := root.Children()
	if err != nil {
		return nil, fmt.Errorf("decode DG7 body: %w", err)
	}
	var images [][]byte
	for _, n := range children {
		if fullTag(n) == tagSignatureImage {
			images = append(images, n.Value)
		}
	}
	return &DG7{raw: raw, Images: images}, nil
}

// findBiometricDataBlocks walks a DG2-shaped tree (outer -> 7F61 ->
// repeated 7F60 -> 5F2E/7F2E) and returns every biometric data block it
// finds, tolerating the alternate single-template encodings some
// issuers emit in place of the full template group.
func findBiometricDataBlocks(n *Node) ([][]byte, error) {
	children, err := n.Children()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, c := range children {
		switch fullTag(c) {
		case tagBiometricDataBlock, tagBiometricDataBlock2:
			out = append(out, c.Value)
		case tagBiometricInfoTemplateGroup, tagBiometricInfoTemplate:
			nested, err := findBiometricDataBlocks(c)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// tag constants for DG11's (Additional Personal Detail) text fields,
// per ICAO 9303 Part 10's DG11 tag table. Image/list fields the table
// also defines (proof of citizenship, other valid TD numbers, other
// names) are left undecoded: nothing downstream consumes them yet.
const (
	tagDG11FullName           = 0x5F0E
	tagDG11PersonalNumber     = 0x5F10
	tagDG11FullDateOfBirth    = 0x5F2B
	tagDG11PlaceOfBirth       = 0x5F11
	tagDG11PermanentAddress   = 0x5F42
	tagDG11Telephone          = 0x5F12
	tagDG11Profession         = 0x5F13
	tagDG11Title              = 0x5F14
	tagDG11PersonalSummary    = 0x5F15
	tagDG11CustodyInformation = 0x5F18
)

// DG11 is the Additional Personal Detail data group.
type DG11 struct {
	raw                []byte
	FullName           string
	PersonalNumber     string
	FullDateOfBirth    string
	PlaceOfBirth       string
	PermanentAddress   string
	Telephone          string
	Profession         string
	Title              string
	PersonalSummary    string
	CustodyInformation string
}

func (d *DG11) ID() document.DataGroupID { return document.DG11 }
func (d *DG11) Raw() []byte              { return d.raw }

func decodeDG11(raw []byte) (*DG11, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG11: %w", err)
	}
	children, err := root.Children()
	if err != nil {
		return nil, fmt.Errorf("decode DG11 body: %w", err)
	}
	dg := &DG11{raw: raw}
	for _, n := range children {
		switch fullTag(n) {
		case tagDG11FullName:
			dg.FullName = string(n.Value)
		case tagDG11PersonalNumber:
			dg.PersonalNumber = string(n.Value)
		case tagDG11FullDateOfBirth:
			dg.FullDateOfBirth = string(n.Value)
		case tagDG11PlaceOfBirth:
			dg.PlaceOfBirth = string(n.Value)
		case tagDG11PermanentAddress:
			dg.PermanentAddress = string(n.Value)
		case tagDG11Telephone:
			dg.Telephone = string(n.Value)
		case tagDG11Profession:
			dg.Profession = string(n.Value)
		case tagDG11Title:
			dg.Title = string(n.Value)
		case tagDG11PersonalSummary:
			dg.PersonalSummary = string(n.Value)
		case tagDG11CustodyInformation:
			dg.CustodyInformation = string(n.Value)
		}
	}
	return dg, nil
}

// tag constants for DG12's (Additional Document Detail) text fields,
// per ICAO 9303 Part 10's DG12 tag table.
const (
	tagDG12IssuingAuthority            = 0x5F19
	tagDG12DateOfIssue                 = 0x5F26
	tagDG12Endorsements                = 0x5F1B
	tagDG12PersonalizationTime         = 0x5F55
	tagDG12PersonalizationDeviceSerial = 0x5F56
)

// DG12 is the Additional Document Detail data group.
type DG12 struct {
	raw                         []byte
	IssuingAuthority            string
	DateOfIssue                 string
	Endorsements                string
	PersonalizationTime         string
	PersonalizationDeviceSerial string
}

func (d *DG12) ID() document.DataGroupID { return document.DG12 }
func (d *DG12) Raw() []byte              { return d.raw }

func decodeDG12(raw []byte) (*DG12, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG12: %w", err)
	}
	children, err := root.Children()
	if err != nil {
		return nil, fmt.Errorf("decode DG12 body: %w", err)
	}
	dg := &DG12{raw: raw}
	for _, n := range children {
		switch fullTag(n) {
		case tagDG12IssuingAuthority:
			dg.IssuingAuthority = string(n.Value)
		case tagDG12DateOfIssue:
			dg.DateOfIssue = string(n.Value)
		case tagDG12Endorsements:
			dg.Endorsements = string(n.Value)
		case tagDG12PersonalizationTime:
			dg.PersonalizationTime = string(n.Value)
		case tagDG12PersonalizationDeviceSerial:
			dg.PersonalizationDeviceSerial = string(n.Value)
		}
	}
	return dg, nil
}

// DG14 carries the SecurityInfos governing Chip Authentication: the
// chip's static CA public key and the protocol OIDs it's willing to
// run CA over. Same SET OF SecurityInfo shape as EF.CardAccess, nested
// one level deeper under DG14's outer application tag.
type DG14 struct {
	raw   []byte
	Infos []SecurityInfo
}

func (d *DG14) ID() document.DataGroupID { return document.DG14 }
func (d *DG14) Raw() []byte              { return d.raw }

// ChipAuthenticationPublicKeys returns the CA public key entries, the
// same accessor CardAccess exposes, so handshake.RunChipAuth can read
// either source uniformly.
func (d *DG14) ChipAuthenticationPublicKeys() []SecurityInfo {
	var out []SecurityInfo
	for _, i := range d.Infos {
		if i.Kind == "CAPublicKey" {
			out = append(out, i)
		}
	}
	return out
}

func decodeDG14(raw []byte) (*DG14, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG14: %w", err)
	}
	infos, err := decodeSecurityInfos(root.Value)
	if err != nil {
		return nil, fmt.Errorf("decode DG14 SecurityInfos: %w", err)
	}
	return &DG14{raw: raw, Infos: infos}, nil
}

// DG15 carries the Active Authentication public key as a plain
// SubjectPublicKeyInfo, decodable with the stdlib x509 parser directly
// (no ICAO-specific framing beyond the outer LDS tag).
type DG15 struct {
	raw       []byte
	PublicKey interface{} // *rsa.PublicKey or *ecdsa.PublicKey
}

func (d *DG15) ID() document.DataGroupID { return document.DG15 }
func (d *DG15) Raw() []byte              { return d.raw }

func decodeDG15(raw []byte) (*DG15, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode DG15: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(root.Value)
	if err != nil {
		return nil, fmt.Errorf("decode DG15 SubjectPublicKeyInfo: %w", err)
	}
	return &DG15{raw: raw, PublicKey: pub}, nil
}

// DecodeDataGroup dispatches to the dedicated decoder for ids with
// structure this package understands, and falls back to Generic
// (Raw() only) for everything else.
func DecodeDataGroup(id document.DataGroupID, raw []byte) (document.DataGroup, error) {
	switch id {
	case document.COM:
		return DecodeCOM(raw)
	case document.SOD:
		return DecodeSOD(raw)
	case document.DG1:
		return decodeDG1(raw)
	case document.DG2:
		return decodeDG2(raw)
	case document.DG7:
		return decodeDG7(raw)
	case document.DG11:
		return decodeDG11(raw)
	case document.DG12:
		return decodeDG12(raw)
	case document.DG14:
		return decodeDG14(raw)
	case document.DG15:
		return decodeDG15(raw)
	default:
		return &Generic{id: id, raw: raw}, nil
	}
}
