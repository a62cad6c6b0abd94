package main

import (
	"bytes"
	enchex "encoding/hex"
	"strings"

	"golang.org/x/xerrors"
	ber "gopkg.in/asn1-ber.v1"
)

// DN holds the RDN sequence in leaf-first order. The root entry is the
// empty DN. Instances are never mutated after parsing.
type DN struct {
	RDNs      []*RelativeDN
	cachedRDN map[string]string
}

type RelativeDN struct {
	Attributes []*AttributeTypeAndValue
}

func (r *RelativeDN) OrigStr() string {
	b := make([]byte, 0, 128)
	for i, attr := range r.Attributes {
		if i > 0 {
			b = append(b, "+"...)
		}
		b = append(b, attr.TypeOrig...)
		b = append(b, "="...)
		b = append(b, attr.ValueOrig...)
	}
	return string(b)
}

func (r *RelativeDN) NormStr() string {
	b := make([]byte, 0, 128)
	for i, attr := range r.Attributes {
		if i > 0 {
			b = append(b, "+"...)
		}
		b = append(b, attr.TypeNorm...)
		b = append(b, "="...)
		b = append(b, attr.ValueNorm...)
	}
	return string(b)
}

type AttributeTypeAndValue struct {
	// TypeOrig is the original attribute type
	TypeOrig string
	// TypeNorm is the normalized attribute type
	TypeNorm string
	// ValueOrig is the original attribute value
	ValueOrig string
	// ValueNorm is the normalized attribute value
	ValueNorm string
}

var rootDN = &DN{
	RDNs: nil,
}

// NormalizeDN maps the empty string to the root DN (which doubles as the
// anonymous bind name).
func NormalizeDN(sm *SchemaMap, dn string) (*DN, error) {
	if dn == "" {
		return rootDN, nil
	}
	return ParseDN(sm, dn)
}

func (d *DN) DNNormStr() string {
	b := make([]byte, 0, 256)
	for i, rdn := range d.RDNs {
		if i > 0 {
			b = append(b, ","...)
		}
		b = append(b, rdn.NormStr()...)
	}
	return string(b)
}

func (d *DN) DNOrigStr() string {
	b := make([]byte, 0, 256)
	for i, rdn := range d.RDNs {
		if i > 0 {
			b = append(b, ","...)
		}
		b = append(b, rdn.OrigStr()...)
	}
	return string(b)
}

func (d *DN) RDNNormStr() string {
	if len(d.RDNs) == 0 {
		return ""
	}
	return d.RDNs[0].NormStr()
}

func (d *DN) RDNOrigStr() string {
	if len(d.RDNs) == 0 {
		return ""
	}
	return d.RDNs[0].OrigStr()
}

func (d *DN) Equal(o *DN) bool {
	if o == nil {
		return false
	}
	return d.DNNormStr() == o.DNNormStr()
}

// Contains reports whether o lies in the subtree rooted at d. A DN
// contains itself; the root DN contains everything.
func (d *DN) Contains(o *DN) bool {
	if o == nil {
		return false
	}
	offset := len(o.RDNs) - len(d.RDNs)
	if offset < 0 {
		return false
	}
	for i, rdn := range d.RDNs {
		if rdn.NormStr() != o.RDNs[offset+i].NormStr() {
			return false
		}
	}
	return true
}

// RDN returns the leading RDN as attribute type => normalized value.
func (d *DN) RDN() map[string]string {
	if len(d.cachedRDN) > 0 {
		return d.cachedRDN
	}

	if len(d.RDNs) == 0 {
		return map[string]string{}
	}

	m := make(map[string]string, len(d.RDNs[0].Attributes))
	for _, a := range d.RDNs[0].Attributes {
		m[a.TypeNorm] = a.ValueNorm
	}

	d.cachedRDN = m

	return m
}

// FirstRDNValue returns the original value of the leading RDN if it is
// single-valued and uses the given attribute type. A mismatch is "not
// applicable", not an error.
func (d *DN) FirstRDNValue(attrType string) (string, bool) {
	if len(d.RDNs) == 0 {
		return "", false
	}
	rdn := d.RDNs[0]
	if len(rdn.Attributes) != 1 {
		return "", false
	}
	if rdn.Attributes[0].TypeNorm != strings.ToLower(attrType) {
		return "", false
	}
	return rdn.Attributes[0].ValueOrig, true
}

func (d *DN) ParentDN() *DN {
	if len(d.RDNs) == 0 {
		return nil
	}
	return &DN{
		RDNs: d.RDNs[1:],
	}
}

func (d *DN) IsRoot() bool {
	return len(d.RDNs) == 0
}

func (d *DN) IsAnonymous() bool {
	return len(d.RDNs) == 0
}

// ParseDN returns a distinguishedName or an error.
// The function respects https://tools.ietf.org/html/rfc4514
// This function based on go-ldap/ldap/v3.
//
// Multi-valued RDNs are rejected since the served tree never produces
// them.
func ParseDN(sm *SchemaMap, str string) (*DN, error) {
	dn := new(DN)
	dn.RDNs = make([]*RelativeDN, 0)
	rdn := new(RelativeDN)
	rdn.Attributes = make([]*AttributeTypeAndValue, 0)
	buffer := bytes.Buffer{}
	attribute := new(AttributeTypeAndValue)
	escaping := false

	unescapedTrailingSpaces := 0
	stringTypeFromBuffer := func() string {
		s := buffer.String()
		s = s[0 : len(s)-unescapedTrailingSpaces]
		buffer.Reset()
		unescapedTrailingSpaces = 0
		return s
	}
	stringValueFromBuffer := func(t string) (string, string) {
		orig := stringTypeFromBuffer()
		return orig, sm.NormalizeValue(t, orig)
	}

	for i := 0; i < len(str); i++ {
		char := str[i]
		switch {
		case escaping:
			unescapedTrailingSpaces = 0
			escaping = false
			switch char {
			case ' ', '"', '#', '+', ',', ';', '<', '=', '>', '\\':
				buffer.WriteByte(char)
				continue
			}
			// Not a special character, assume hex encoded octet
			if len(str) == i+1 {
				return nil, NewInvalidDNSyntax()
			}

			dst := []byte{0}
			n, err := enchex.Decode(dst, []byte(str[i:i+2]))
			if err != nil {
				return nil, NewInvalidDNSyntax()
			} else if n != 1 {
				return nil, NewInvalidDNSyntax()
			}
			buffer.WriteByte(dst[0])
			i++
		case char == '\\':
			unescapedTrailingSpaces = 0
			escaping = true
		case char == '=':
			attribute.TypeOrig = stringTypeFromBuffer()
			if attribute.TypeOrig == "" {
				return nil, NewInvalidDNSyntax()
			}
			attribute.TypeNorm = strings.ToLower(attribute.TypeOrig)
			// Special case: If the first character in the value is # the
			// following data is BER encoded so we can just fast forward
			// and decode.
			if len(str) > i+1 && str[i+1] == '#' {
				i += 2
				index := strings.IndexAny(str[i:], ",+")
				var data string
				if index > 0 {
					data = str[i : i+index]
				} else {
					data = str[i:]
				}
				rawBER, err := enchex.DecodeString(data)
				if err != nil {
					return nil, NewInvalidDNSyntax()
				}
				packet, err := ber.DecodePacketErr(rawBER)
				if err != nil {
					return nil, NewInvalidDNSyntax()
				}
				buffer.WriteString(packet.Data.String())
				i += len(data) - 1
			}
		case char == '+':
			return nil, NewInvalidDNSyntax()
		case char == ',':
			// We're done with this RDN, push it
			if len(attribute.TypeOrig) == 0 {
				return nil, NewInvalidDNSyntax()
			}
			attribute.ValueOrig, attribute.ValueNorm = stringValueFromBuffer(attribute.TypeNorm)
			rdn.Attributes = append(rdn.Attributes, attribute)
			attribute = new(AttributeTypeAndValue)
			dn.RDNs = append(dn.RDNs, rdn)
			rdn = new(RelativeDN)
			rdn.Attributes = make([]*AttributeTypeAndValue, 0)
		case char == ' ' && buffer.Len() == 0:
			// ignore unescaped leading spaces
			continue
		default:
			if char == ' ' {
				// Track unescaped spaces in case they are trailing and we need to remove them
				unescapedTrailingSpaces++
			} else {
				// Reset if we see a non-space char
				unescapedTrailingSpaces = 0
			}
			buffer.WriteByte(char)
		}
	}
	if buffer.Len() > 0 {
		if len(attribute.TypeOrig) == 0 {
			return nil, NewInvalidDNSyntax()
		}
		attribute.ValueOrig, attribute.ValueNorm = stringValueFromBuffer(attribute.TypeNorm)
		rdn.Attributes = append(rdn.Attributes, attribute)
		dn.RDNs = append(dn.RDNs, rdn)
	} else if len(attribute.TypeOrig) > 0 {
		// "cn=" style empty value or trailing comma
		return nil, NewInvalidDNSyntax()
	} else if len(dn.RDNs) > 0 {
		// trailing comma
		return nil, NewInvalidDNSyntax()
	}
	if escaping {
		return nil, xerrors.New("got corrupted escaped character")
	}
	if len(dn.RDNs) == 0 {
		return nil, NewInvalidDNSyntax()
	}
	return dn, nil
}
