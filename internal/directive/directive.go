package directive

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ProtocolVersion is the version of the directive grammar.
const ProtocolVersion = 1

// Prefix marks a line of compiler output as a check directive.
const Prefix = "__t_"

// ExpectedStatus is the directive name carrying the required exit status.
const ExpectedStatus = "expected_status"

// maxLineSize bounds a directive line. Longer lines without Prefix are
// skipped, since compilers may dump large diagnostics on stdout.
const maxLineSize = 4 * 1024 * 1024

// Kind classifies a directive name into the closed set the harness knows.
type Kind int

const (
	// KindUnknown is any name the harness does not recognize.
	KindUnknown Kind = iota
	// KindExpectedStatus requires a specific executable exit status.
	KindExpectedStatus
)

func (k Kind) String() string {
	switch k {
	case KindExpectedStatus:
		return ExpectedStatus
	default:
		return "unknown"
	}
}

// Directive is one decoded check directive.
type Directive struct {
	// Name is the directive kind tag, without Prefix.
	Name string `json:"name"`

	// RawValue is the uninterpreted text after the first '='.
	RawValue string `json:"value"`

	// Line is the 1-based line number in the source stream.
	Line int `json:"-"`
}

// Kind classifies the directive by name.
func (d Directive) Kind() Kind {
	switch d.Name {
	case ExpectedStatus:
		return KindExpectedStatus
	default:
		return KindUnknown
	}
}

// String re-encodes the directive in wire format.
func (d Directive) String() string {
	return Prefix + d.Name + "=" + d.RawValue
}

// MalformedError reports a prefixed line that does not have the
// name=value shape.
type MalformedError struct {
	Line    int
	Content string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed check directive on line %d: %q", e.Line, e.Content)
}

// Parse decodes all directives in r, in stream order.
// An empty stream yields an empty, non-nil slice.
func Parse(r io.Reader) ([]Directive, error) {
	directives := []Directive{}
	reader := bufio.NewReaderSize(r, 64*1024)

	var line []byte
	oversized := false
	lineNo := 0
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read directive stream: %w", err)
		}

		if !oversized {
			if len(line)+len(chunk) > maxLineSize {
				oversized = true
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}

		lineNo++
		text := strings.TrimSuffix(string(line), "\r")
		if oversized {
			if strings.HasPrefix(text, Prefix) {
				return nil, fmt.Errorf("check directive on line %d exceeds %d bytes", lineNo, maxLineSize)
			}
		} else {
			d, ok, err := parseLine(text, lineNo)
			if err != nil {
				return nil, err
			}
			if ok {
				directives = append(directives, d)
			}
		}
		line = line[:0]
		oversized = false
	}

	return directives, nil
}

// ParseString is Parse over an in-memory string.
func ParseString(s string) ([]Directive, error) {
	return Parse(strings.NewReader(s))
}

func parseLine(line string, lineNo int) (Directive, bool, error) {
	rest, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return Directive{}, false, nil
	}

	name, value, found := strings.Cut(rest, "=")
	if !found || name == "" {
		return Directive{}, false, &MalformedError{Line: lineNo, Content: line}
	}

	return Directive{Name: name, RawValue: value, Line: lineNo}, true, nil
}

// Resolve applies last-write-wins per name. The result keeps the position
// of each name's first appearance and the value of its last.
func Resolve(directives []Directive) []Directive {
	index := make(map[string]int, len(directives))
	resolved := make([]Directive, 0, len(directives))

	for _, d := range directives {
		if i, seen := index[d.Name]; seen {
			resolved[i] = d
			continue
		}
		index[d.Name] = len(resolved)
		resolved = append(resolved, d)
	}

	return resolved
}

// Encode writes directives back in wire format, one per line.
func Encode(w io.Writer, directives []Directive) error {
	for _, d := range directives {
		if _, err := fmt.Fprintln(w, d.String()); err != nil {
			return err
		}
	}
	return nil
}
