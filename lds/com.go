package lds

import (
	"fmt"

	"mrtdreader/document"
)

// tag constants for the fields nested inside EF.COM / SecurityInfo
// structures this package decodes.
const (
	tagLDSVersion     = 0x5F01
	tagUnicodeVersion = 0x5F36
	tagDGTagList      = 0x5C
)

// COM is the decoded EF.COM: the LDS/Unicode version strings and the
// list of data groups the chip claims to carry, per spec §4.5/§9.
type COM struct {
	raw            []byte
	LDSVersion     string
	UnicodeVersion string
	DataGroups     []document.DataGroupID
	UnknownDGTags  []byte // tags in the list with no known DataGroupID
}

func (c *COM) ID() document.DataGroupID { return document.COM }
func (c *COM) Raw() []byte              { return c.raw }

// DecodeCOM parses a raw EF.COM file (outer tag 0x60).
func DecodeCOM(raw []byte) (*COM, error) {
	root, _, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("lds: decode EF.COM: %w", err)
	}
	if root.Tag != document.COM.Tag() {
		return nil, fmt.Errorf("lds: EF.COM outer tag = %02X, want %02X", root.Tag, document.COM.Tag())
	}
	children, err := root.Children()
	if err != nil {
		return nil, fmt.Errorf("lds: decode EF.COM body: %w", err)
	}

	com := &COM{raw: raw}
	for _, n := range children {
		full := fullTag(n)
		switch full {
		case tagLDSVersion:
			com.LDSVersion = string(n.Value)
		case tagUnicodeVersion:
			com.UnicodeVersion = string(n.Value)
		case tagDGTagList:
			for _, t := range n.Value {
				if dg, ok := document.TagToDataGroupID(t); ok {
					com.DataGroups = append(com.DataGroups, dg)
				} else {
					com.UnknownDGTags = append(com.UnknownDGTags, t)
				}
			}
		}
	}
	return com, nil
}

// fullTag renders a two-byte tag (e.g. 5F 01) as a single int key; single
// -byte tags pass through unchanged, matching how ICAO LDS tag tables
// list both forms.
func fullTag(n *Node) int {
	if n.Tag&0x1F == 0x1F {
		return int(n.Tag)<<8 | n.TagNumber
	}
	return int(n.Tag)
}
