// Package lds decodes the Logical Data Structure files an eMRTD chip
// exposes: EF.CardAccess, EF.COM, EF.SOD, and the sixteen data groups.
// Every file in this package shares one BER-TLV walk (tlv.go) adapted
// from the teacher's esim/asn1 TLV state machine, generalized from
// SIM/eSIM profile tags to LDS tags.
package lds

import "fmt"

// Class is the ASN.1/BER-TLV tag class carried in the top two bits of
// the tag byte.
type Class byte

const (
	ClassUniversal       Class = 0
	ClassApplication     Class = 1
	ClassContextSpecific Class = 2
	ClassPrivate         Class = 3
)

// Node is one decoded TLV element: either primitive (Value holds the
// content octets) or constructed (Value holds the nested encoding,
// walked again via Parse).
type Node struct {
	Tag         byte
	Class       Class
	Constructed bool
	TagNumber   int // full tag number, for multi-byte tags (tag&0x1F==0x1F)
	Length      int
	Value       []byte
	HeaderLen   int // tag + length octets, for FullLen below
}

// FullLen is the total encoded size of this node (header + value).
func (n *Node) FullLen() int { return n.HeaderLen + len(n.Value) }

// Children walks a constructed node's Value as a sequence of nested
// nodes. It is a no-op (returns nil) on a primitive node.
func (n *Node) Children() ([]*Node, error) {
	if !n.Constructed {
		return nil, nil
	}
	return ParseAll(n.Value)
}

// Find returns the first direct child with the given tag, walking
// Children(). Returns nil if none matches or n is primitive.
func (n *Node) Find(tag byte) *Node {
	children, err := n.Children()
	if err != nil {
		return nil
	}
	for _, c := range children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Parse decodes the single TLV element at the front of data and
// returns it along with whatever bytes follow it.
func Parse(data []byte) (*Node, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("lds: empty TLV input")
	}

	n := &Node{Tag: data[0]}
	n.Class = Class(data[0] >> 6 & 3)
	n.Constructed = data[0]&0x20 != 0
	pos := 1

	if data[0]&0x1F == 0x1F {
		// Long tag form: subsequent octets carry base-128 tag number,
		// high bit set on all but the last.
		tagNumber := 0
		for {
			if pos >= len(data) {
				return nil, nil, fmt.Errorf("lds: truncated long-form tag")
			}
			b := data[pos]
			pos++
			tagNumber = tagNumber<<7 | int(b&0x7F)
			if b&0x80 == 0 {
				break
			}
		}
		n.TagNumber = tagNumber
	} else {
		n.TagNumber = int(data[0] & 0x1F)
	}

	if pos >= len(data) {
		return nil, nil, fmt.Errorf("lds: truncated length octet")
	}
	lengthByte := data[pos]
	pos++

	var length int
	switch {
	case lengthByte < 0x80:
		length = int(lengthByte)
	case lengthByte == 0x80:
		return nil, nil, fmt.Errorf("lds: indefinite-length BER-TLV not supported")
	default:
		numLenBytes := int(lengthByte & 0x7F)
		if numLenBytes > 4 {
			return nil, nil, fmt.Errorf("lds: length form too wide (%d octets)", numLenBytes)
		}
		if pos+numLenBytes > len(data) {
			return nil, nil, fmt.Errorf("lds: truncated long-form length")
		}
		for i := 0; i < numLenBytes; i++ {
			length = length<<8 | int(data[pos])
			pos++
		}
	}

	n.HeaderLen = pos
	n.Length = length
	if pos+length > len(data) {
		return nil, nil, fmt.Errorf("lds: TLV value runs past end of input (tag %02X wants %d bytes, %d remain)", n.Tag, length, len(data)-pos)
	}
	n.Value = data[pos : pos+length]
	return n, data[pos+length:], nil
}

// ParseAll decodes a flat run of sibling TLV elements until data is
// exhausted.
func ParseAll(data []byte) ([]*Node, error) {
	var nodes []*Node
	for len(data) > 0 {
		n, rest, err := Parse(data)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		data = rest
	}
	return nodes, nil
}

// EncodeLength renders length in BER definite form (short if <0x80).
func EncodeLength(length int) []byte {
	if length < 0x80 {
		return []byte{byte(length)}
	}
	var lenBytes []byte
	for l := length; l > 0; l >>= 8 {
		lenBytes = append([]byte{byte(l & 0xFF)}, lenBytes...)
	}
	return append([]byte{0x80 | byte(len(lenBytes))}, lenBytes...)
}

// Encode renders tag, length(value), value for a single-byte tag.
func Encode(tag byte, value []byte) []byte {
	out := append([]byte{tag}, EncodeLength(len(value))...)
	return append(out, value...)
}

// EncodeTag renders tag, length(value), value for a tag that may be
// one or two bytes wide, taking the same single-int tag form fullTag
// collapses two-byte tags (e.g. 5F 1F) to.
func EncodeTag(tag int, value []byte) []byte {
	var tagBytes []byte
	if tag > 0xFF {
		tagBytes = []byte{byte(tag >> 8), byte(tag)}
	} else {
		tagBytes = []byte{byte(tag)}
	}
	out := append(append([]byte{}, tagBytes...), EncodeLength(len(value))...)
	return append(out, value...)
}
