package directive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainDirectives separates directive fingerprints from any other hash
// computed over the same bytes.
const DomainDirectives = "lokitest/directives/v1"

// MarshalCanonical encodes the resolved directives as canonical JSON:
// an array of {"name","value"} objects with NFC-normalized strings and no
// HTML escaping. Identical expectations always produce identical bytes.
func MarshalCanonical(directives []Directive) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, d := range Resolve(directives) {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := marshalCanonicalString(d.Name)
		if err != nil {
			return nil, fmt.Errorf("directive[%d] name: %w", i, err)
		}
		value, err := marshalCanonicalString(d.RawValue)
		if err != nil {
			return nil, fmt.Errorf("directive[%d] value: %w", i, err)
		}

		buf.WriteString(`{"name":`)
		buf.Write(name)
		buf.WriteString(`,"value":`)
		buf.Write(value)
		buf.WriteByte('}')
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Fingerprint returns a stable hex SHA-256 identifying a set of
// expectations. Order of first appearance matters; repeated names do not.
func Fingerprint(directives []Directive) (string, error) {
	data, err := MarshalCanonical(directives)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(DomainDirectives))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
