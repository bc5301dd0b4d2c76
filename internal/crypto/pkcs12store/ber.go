package pkcs12store

import (
	"errors"
	"fmt"
)

// go-pkcs12 only decodes DER, but some real-world bundles (legacy exports from
// older keystores and smart-card tooling) are BER encoded with indefinite
// lengths and constructed OCTET STRINGs. normalizeBER rewrites them as DER
// before the bundle is handed to the decoder.

const (
	asn1ClassMask       = 0xC0
	asn1ClassContext    = 0x80
	asn1ConstructedMask = 0x20
	asn1TagMask         = 0x1F
	asn1TagOctetString  = 0x04
	asn1TagSequence     = 0x30
)

// normalizeBER converts BER (including indefinite lengths and constructed
// OCTET STRINGs) into DER so strict ASN.1 decoders can parse legacy PKCS#12.
func normalizeBER(input []byte) ([]byte, error) {
	p := &berParser{b: input}
	der, err := p.element()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.b) {
		return nil, errors.New("trailing data after BER conversion")
	}
	return der, nil
}

type berParser struct {
	b   []byte
	pos int
}

// element reads one BER element at the cursor and returns its DER form.
func (p *berParser) element() ([]byte, error) {
	tag, tagBytes, err := p.tag()
	if err != nil {
		return nil, err
	}
	length, indefinite, err := p.length()
	if err != nil {
		return nil, err
	}
	constructed := tag&asn1ConstructedMask != 0

	if !constructed {
		if indefinite {
			return nil, errors.New("invalid BER: primitive with indefinite length")
		}
		if p.remaining() < length {
			return nil, errors.New("invalid BER: content truncated")
		}
		content := p.b[p.pos : p.pos+length]
		p.pos += length
		return derElement(tagBytes, content), nil
	}

	var children [][]byte
	if indefinite {
		children, err = p.childrenUntilEOC()
	} else {
		if p.remaining() < length {
			return nil, errors.New("invalid BER: content truncated")
		}
		sub := &berParser{b: p.b[p.pos : p.pos+length]}
		p.pos += length
		children, err = sub.childrenUntilEnd()
	}
	if err != nil {
		return nil, err
	}
	return assembleConstructed(tag, tagBytes, children)
}

func (p *berParser) childrenUntilEOC() ([][]byte, error) {
	var children [][]byte
	for {
		if p.remaining() < 2 {
			return nil, errors.New("invalid BER: missing EOC for indefinite length")
		}
		if p.b[p.pos] == 0x00 && p.b[p.pos+1] == 0x00 {
			p.pos += 2
			return children, nil
		}
		child, err := p.element()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
}

func (p *berParser) childrenUntilEnd() ([][]byte, error) {
	var children [][]byte
	for p.pos < len(p.b) {
		child, err := p.element()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// assembleConstructed re-encodes a constructed element. DER forbids the
// constructed OCTET STRING form, so its segments are concatenated into a
// primitive one. Implicitly tagged [0] content made of OCTET STRING segments
// (PKCS#7 encryptedContent) is flattened the same way.
func assembleConstructed(tag byte, tagBytes []byte, children [][]byte) ([]byte, error) {
	class := tag & asn1ClassMask
	number := tag & asn1TagMask

	switch {
	case class == 0 && number == asn1TagOctetString:
		flat, ok := concatOctetStrings(children)
		if !ok {
			return nil, fmt.Errorf("invalid constructed OCTET STRING segment")
		}
		return derElement([]byte{asn1TagOctetString}, renormalizeNested(flat)), nil
	case class == asn1ClassContext && number == 0 && len(children) > 1:
		if flat, ok := concatOctetStrings(children); ok {
			primitive := append([]byte(nil), tagBytes...)
			primitive[0] &^= asn1ConstructedMask
			return derElement(primitive, flat), nil
		}
	}
	return derElement(tagBytes, concat(children)), nil
}

func (p *berParser) tag() (byte, []byte, error) {
	if p.remaining() < 1 {
		return 0, nil, errors.New("invalid BER: missing tag")
	}
	first := p.b[p.pos]
	p.pos++
	if first&asn1TagMask != asn1TagMask {
		return first, []byte{first}, nil
	}

	// Long-form tag number.
	tagBytes := []byte{first}
	for {
		if p.remaining() < 1 {
			return 0, nil, errors.New("invalid BER: truncated long-form tag")
		}
		b := p.b[p.pos]
		p.pos++
		tagBytes = append(tagBytes, b)
		if b&0x80 == 0 {
			return first, tagBytes, nil
		}
	}
}

func (p *berParser) length() (int, bool, error) {
	if p.remaining() < 1 {
		return 0, false, errors.New("invalid BER: missing length")
	}
	first := p.b[p.pos]
	p.pos++

	switch {
	case first == 0x80:
		return 0, true, nil
	case first < 0x80:
		return int(first), false, nil
	}

	n := int(first & 0x7F)
	if n > 4 {
		return 0, false, errors.New("invalid BER: length too large")
	}
	if p.remaining() < n {
		return 0, false, errors.New("invalid BER: truncated long-form length")
	}
	length := 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(p.b[p.pos])
		p.pos++
	}
	return length, false, nil
}

func (p *berParser) remaining() int {
	return len(p.b) - p.pos
}

func derElement(tag, content []byte) []byte {
	out := make([]byte, 0, len(tag)+5+len(content))
	out = append(out, tag...)
	out = appendDERLength(out, len(content))
	return append(out, content...)
}

func appendDERLength(out []byte, length int) []byte {
	if length < 0x80 {
		return append(out, byte(length))
	}
	var tmp [8]byte
	i := len(tmp)
	for v := length; v > 0; v >>= 8 {
		i--
		tmp[i] = byte(v)
	}
	out = append(out, byte(0x80|(len(tmp)-i)))
	return append(out, tmp[i:]...)
}

func concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// concatOctetStrings joins the contents of DER OCTET STRING segments.
func concatOctetStrings(segments [][]byte) ([]byte, bool) {
	var out []byte
	for _, s := range segments {
		tag, content, err := splitDER(s)
		if err != nil || tag != asn1TagOctetString {
			return nil, false
		}
		out = append(out, content...)
	}
	if out == nil {
		out = []byte{}
	}
	return out, true
}

// splitDER returns the first tag byte and the content of a single DER element.
func splitDER(der []byte) (byte, []byte, error) {
	if len(der) < 2 {
		return 0, nil, errors.New("invalid DER: short element")
	}
	tag := der[0]
	pos := 1
	if tag&asn1TagMask == asn1TagMask {
		for {
			if pos >= len(der) {
				return 0, nil, errors.New("invalid DER: truncated long tag")
			}
			b := der[pos]
			pos++
			if b&0x80 == 0 {
				break
			}
		}
	}
	if pos >= len(der) {
		return 0, nil, errors.New("invalid DER: missing length")
	}

	first := der[pos]
	pos++
	length := int(first)
	if first >= 0x80 {
		n := int(first & 0x7F)
		if n == 0 || n > 4 || pos+n > len(der) {
			return 0, nil, errors.New("invalid DER: length overflow")
		}
		length = 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(der[pos])
			pos++
		}
	}
	if pos+length != len(der) {
		return 0, nil, errors.New("invalid DER: trailing data")
	}
	return tag, der[pos:], nil
}

// renormalizeNested converts OCTET STRING payloads that are themselves BER
// structures (AuthSafe and SafeContents are wrapped this way in PKCS#12).
func renormalizeNested(content []byte) []byte {
	if len(content) == 0 || content[0] != asn1TagSequence {
		return content
	}
	normalized, err := normalizeBER(content)
	if err != nil {
		return content
	}
	return normalized
}
