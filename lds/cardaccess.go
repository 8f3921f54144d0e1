package lds

import (
	"encoding/asn1"
	"fmt"

	"mrtdreader/dictionaries"
)

// SecurityInfo is one decoded entry from the SET OF SecurityInfo that
// makes up EF.CardAccess (and, restricted to the CA family, DG14). DER
// structure decode uses encoding/asn1 directly: these are plain nested
// SEQUENCE/INTEGER/OID values with no ICAO-specific tagging, exactly
// the shape crypto/x509 itself decodes with the same package.
type SecurityInfo struct {
	Protocol    string // dotted OID
	Name        string // dictionaries.OIDName(Protocol)
	Kind        string // "PACE", "CA", "CAPublicKey", "unknown"
	Version     int
	ParameterID *int // PACE: domain parameter id; nil when absent or encoded as 0
	KeyID       *int // CA: key id; nil when absent or encoded as 0
	PublicKey   []byte
}

// CardAccess is the decoded EF.CardAccess: the PACE and Chip
// Authentication capability advertisement read before BAC/PACE per
// spec §4.6.
type CardAccess struct {
	raw   []byte
	Infos []SecurityInfo
}

func (c *CardAccess) Raw() []byte { return c.raw }

// PACEInfos returns the subset of Infos advertising a PACE protocol.
func (c *CardAccess) PACEInfos() []SecurityInfo {
	var out []SecurityInfo
	for _, i := range c.Infos {
		if i.Kind == "PACE" {
			out = append(out, i)
		}
	}
	return out
}

// ChipAuthenticationInfos returns the subset advertising Chip
// Authentication (protocol selection only, no public key).
func (c *CardAccess) ChipAuthenticationInfos() []SecurityInfo {
	var out []SecurityInfo
	for _, i := range c.Infos {
		if i.Kind == "CA" {
			out = append(out, i)
		}
	}
	return out
}

// ChipAuthenticationPublicKeys returns the subset carrying the chip's
// static CA public key.
func (c *CardAccess) ChipAuthenticationPublicKeys() []SecurityInfo {
	var out []SecurityInfo
	for _, i := range c.Infos {
		if i.Kind == "CAPublicKey" {
			out = append(out, i)
		}
	}
	return out
}

// DecodeCardAccess parses a raw EF.CardAccess file.
func DecodeCardAccess(raw []byte) (*CardAccess, error) {
	infos, err := decodeSecurityInfos(raw)
	if err != nil {
		return nil, fmt.Errorf("lds: decode EF.CardAccess: %w", err)
	}
	return &CardAccess{raw: raw, Infos: infos}, nil
}

func decodeSecurityInfos(der []byte) ([]SecurityInfo, error) {
	var set []asn1.RawValue
	if _, err := asn1.UnmarshalWithParams(der, &set, "set"); err != nil {
		return nil, fmt.Errorf("decode SET OF SecurityInfo: %w", err)
	}

	infos := make([]SecurityInfo, 0, len(set))
	for idx, raw := range set {
		info, err := decodeOneSecurityInfo(raw.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("SecurityInfo[%d]: %w", idx, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func decodeOneSecurityInfo(seq []byte) (SecurityInfo, error) {
	var body asn1.RawValue
	if _, err := asn1.Unmarshal(seq, &body); err != nil {
		return SecurityInfo{}, err
	}
	content := body.Bytes

	var oid asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(content, &oid)
	if err != nil {
		return SecurityInfo{}, fmt.Errorf("protocol OID: %w", err)
	}
	// The elements after the protocol OID are re-wrapped as a SEQUENCE so
	// each per-protocol tail below decodes as an ordinary struct.
	tailSeq, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: rest})
	if err != nil {
		return SecurityInfo{}, err
	}

	oidStr := oid.String()
	entry, _ := dictionaries.LookupOID(oidStr)
	info := SecurityInfo{Protocol: oidStr, Name: entry.Name, Kind: "unknown"}
	if info.Name == "" {
		info.Name = oidStr
	}

	// id-PK-DH / id-PK-ECDH are filed under the CA family in the
	// dictionary but carry a public key, decoded by the default branch.
	kind := entry.Kind
	if oidStr == "0.4.0.127.0.7.2.2.1.1" || oidStr == "0.4.0.127.0.7.2.2.1.2" {
		kind = "CAPublicKey"
	}

	switch kind {
	case "PACE":
		info.Kind = "PACE"
		var tail struct {
			Version     int
			ParameterID int `asn1:"optional"`
		}
		if _, err := asn1.Unmarshal(tailSeq, &tail); err != nil {
			return SecurityInfo{}, fmt.Errorf("PACEInfo body: %w", err)
		}
		info.Version = tail.Version
		if tail.ParameterID != 0 {
			pid := tail.ParameterID
			info.ParameterID = &pid
		}
	case "CA":
		// id-CA-DH / id-CA-ECDH (bare, no algorithm suffix) advertise only
		// the protocol family and have no version/keyId tail; the
		// algorithm-suffixed OIDs (…-3DES-CBC-CBC etc) carry version+keyId.
		info.Kind = "CA"
		if len(rest) > 0 {
			var tail struct {
				Version int
				KeyID   int `asn1:"optional"`
			}
			if _, err := asn1.Unmarshal(tailSeq, &tail); err == nil {
				info.Version = tail.Version
				if tail.KeyID != 0 {
					kid := tail.KeyID
					info.KeyID = &kid
				}
			}
		}
	default:
		if oidStr == "0.4.0.127.0.7.2.2.1.1" || oidStr == "0.4.0.127.0.7.2.2.1.2" {
			info.Kind = "CAPublicKey"
			var tail struct {
				PublicKey asn1.RawValue
				KeyID     int `asn1:"optional"`
			}
			if _, err := asn1.Unmarshal(tailSeq, &tail); err != nil {
				return SecurityInfo{}, fmt.Errorf("ChipAuthenticationPublicKeyInfo body: %w", err)
			}
			info.PublicKey = tail.PublicKey.FullBytes
			if tail.KeyID != 0 {
				kid := tail.KeyID
				info.KeyID = &kid
			}
		}
	}
	return info, nil
}
