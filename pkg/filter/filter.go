// Package filter implements LDAP-style selection filters (RFC 1960 syntax) used to
// narrow capability providers by their registration properties, e.g.
// "(&(name=test)(|(version>=2)(tier=*)))".
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

type operator int

const (
	opAnd operator = iota
	opOr
	opNot
	opEqual
	opPresent
	opSubstring
	opGreaterEqual
	opLessEqual
	opApprox
)

// Filter is a parsed selection filter. The zero value is not valid; use Parse.
type Filter struct {
	op       operator
	attr     string
	value    string
	parts    []string // substring fragments split on '*'
	children []*Filter
	source   string
}

// MatchAll is the filter used when a caller passes an empty filter string.
var MatchAll = &Filter{op: opPresent, attr: "objectClass", source: ""}

// Parse compiles a filter string. An empty or blank string matches everything.
func Parse(text string) (*Filter, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return MatchAll, nil
	}
	p := &parser{text: trimmed}
	f, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos != len(p.text) {
		return nil, p.errorf("unexpected trailing input")
	}
	f.source = trimmed
	return f, nil
}

// String returns the filter text the filter was parsed from.
func (f *Filter) String() string {
	return f.source
}

// Match evaluates the filter against a property set. Attribute names are case-insensitive.
func (f *Filter) Match(properties map[string]string) bool {
	switch f.op {
	case opAnd:
		for _, child := range f.children {
			if !child.Match(properties) {
				return false
			}
		}
		return true
	case opOr:
		for _, child := range f.children {
			if child.Match(properties) {
				return true
			}
		}
		return false
	case opNot:
		return !f.children[0].Match(properties)
	}

	actual, ok := lookup(properties, f.attr)
	if !ok {
		return false
	}

	switch f.op {
	case opPresent:
		return true
	case opEqual:
		return actual == f.value
	case opApprox:
		return normalizeApprox(actual) == normalizeApprox(f.value)
	case opSubstring:
		return matchSubstring(actual, f.parts)
	case opGreaterEqual:
		return compare(actual, f.value) >= 0
	case opLessEqual:
		return compare(actual, f.value) <= 0
	}
	return false
}

func lookup(properties map[string]string, attr string) (string, bool) {
	if value, ok := properties[attr]; ok {
		return value, true
	}
	for key, value := range properties {
		if strings.EqualFold(key, attr) {
			return value, true
		}
	}
	return "", false
}

// compare orders numerically when both sides parse as numbers, lexically otherwise.
func compare(actual, expected string) int {
	a, errA := strconv.ParseFloat(actual, 64)
	e, errE := strconv.ParseFloat(expected, 64)
	if errA == nil && errE == nil {
		switch {
		case a < e:
			return -1
		case a > e:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(actual, expected)
}

func normalizeApprox(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), ""))
}

func matchSubstring(value string, parts []string) bool {
	// parts[0] is the anchored prefix, parts[len-1] the anchored suffix
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	last := len(parts) - 1
	for _, middle := range parts[1:last] {
		idx := strings.Index(value, middle)
		if idx < 0 {
			return false
		}
		value = value[idx+len(middle):]
	}
	return strings.HasSuffix(value, parts[last])
}

type parser struct {
	text string
	pos  int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("invalid filter %q at offset %d: %s", p.text, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.text) && p.text[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseFilter() (*Filter, error) {
	p.skipSpaces()
	if p.pos >= len(p.text) || p.text[p.pos] != '(' {
		return nil, p.errorf("expected '('")
	}
	p.pos++
	p.skipSpaces()
	if p.pos >= len(p.text) {
		return nil, p.errorf("unexpected end of filter")
	}

	var f *Filter
	var err error
	switch p.text[p.pos] {
	case '&':
		p.pos++
		f, err = p.parseList(opAnd)
	case '|':
		p.pos++
		f, err = p.parseList(opOr)
	case '!':
		p.pos++
		var child *Filter
		child, err = p.parseFilter()
		if err == nil {
			f = &Filter{op: opNot, children: []*Filter{child}}
		}
	default:
		f, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}

	p.skipSpaces()
	if p.pos >= len(p.text) || p.text[p.pos] != ')' {
		return nil, p.errorf("expected ')'")
	}
	p.pos++
	return f, nil
}

func (p *parser) parseList(op operator) (*Filter, error) {
	f := &Filter{op: op}
	for {
		p.skipSpaces()
		if p.pos < len(p.text) && p.text[p.pos] == ')' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		f.children = append(f.children, child)
	}
	if len(f.children) == 0 {
		return nil, p.errorf("empty filter list")
	}
	return f, nil
}

func (p *parser) parseItem() (*Filter, error) {
	start := p.pos
	for p.pos < len(p.text) && !strings.ContainsRune("=<>~()", rune(p.text[p.pos])) {
		p.pos++
	}
	attr := strings.TrimSpace(p.text[start:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}
	if p.pos >= len(p.text) {
		return nil, p.errorf("missing operator")
	}

	op := opEqual
	switch p.text[p.pos] {
	case '=':
		p.pos++
	case '<', '>', '~':
		if p.pos+1 >= len(p.text) || p.text[p.pos+1] != '=' {
			return nil, p.errorf("expected '=' after %q", p.text[p.pos])
		}
		switch p.text[p.pos] {
		case '<':
			op = opLessEqual
		case '>':
			op = opGreaterEqual
		default:
			op = opApprox
		}
		p.pos += 2
	default:
		return nil, p.errorf("unexpected operator %q", p.text[p.pos])
	}

	raw, hasWildcard, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	f := &Filter{op: op, attr: attr}
	if op != opEqual || !hasWildcard {
		f.value = strings.Join(raw, "*")
		return f, nil
	}
	if len(raw) == 2 && raw[0] == "" && raw[1] == "" {
		f.op = opPresent
		return f, nil
	}
	f.op = opSubstring
	f.parts = raw
	return f, nil
}

// parseValue reads up to the closing ')' and splits on unescaped '*'.
func (p *parser) parseValue() ([]string, bool, error) {
	var parts []string
	var current strings.Builder
	wildcard := false
	for p.pos < len(p.text) {
		c := p.text[p.pos]
		switch c {
		case ')':
			parts = append(parts, current.String())
			return parts, wildcard, nil
		case '(':
			return nil, false, p.errorf("unescaped '(' in value")
		case '*':
			wildcard = true
			parts = append(parts, current.String())
			current.Reset()
		case '\\':
			p.pos++
			if p.pos >= len(p.text) {
				return nil, false, p.errorf("dangling escape")
			}
			current.WriteByte(p.text[p.pos])
		default:
			current.WriteByte(c)
		}
		p.pos++
	}
	return nil, false, p.errorf("unterminated value")
}
