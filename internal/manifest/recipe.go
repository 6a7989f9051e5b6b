package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

var assignment = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*(.*)$`)

// parseRecipe reads the class attributes of a recipe-style manifest. Only
// assignments directly in the class body are considered, so locals inside
// methods never leak into the manifest.
func parseRecipe(data []byte) (*Manifest, error) {
	stmts, err := classAssignments(data)
	if err != nil {
		return nil, err
	}

	m := &Manifest{DefaultOptions: map[string]string{}}
	for _, st := range stmts {
		val, err := parseExpr(st.value)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", st.line, st.name, err)
		}

		switch st.name {
		case "name":
			m.Name = val.text()
		case "version":
			m.Version = val.text()
		case "generators":
			m.Generators = append(m.Generators, val.strings()...)
		case "requires":
			for _, item := range val.elements() {
				req, err := ParseRequirement(item.first())
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", st.line, err)
				}
				m.Requires = append(m.Requires, req)
			}
		case "default_options":
			if err := collectOptions(m.DefaultOptions, val); err != nil {
				return nil, fmt.Errorf("line %d: %w", st.line, err)
			}
		}
	}
	return m, nil
}

func collectOptions(into map[string]string, val pyValue) error {
	if val.kind == pyDict {
		for _, kv := range val.pairs {
			into[kv[0].text()] = kv[1].text()
		}
		return nil
	}
	for _, s := range val.strings() {
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return fmt.Errorf("%w: option %q without '='", ErrSyntax, line)
			}
			into[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return nil
}

type statement struct {
	name  string
	value string
	line  int
}

func classAssignments(data []byte) ([]statement, error) {
	var (
		stmts      []statement
		inClass    bool
		bodyIndent = -1
		pending    *statement
		depth      int
		lex        lineLexer
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; sc.Scan(); lineNo++ {
		inString := lex.triple != ""
		code, delta := lex.scan(sc.Text())

		if pending != nil {
			pending.value += "\n" + code
			depth += delta
			if depth <= 0 && lex.triple == "" {
				stmts = append(stmts, *pending)
				pending = nil
			}
			continue
		}
		// the rest of a multi-line string that is not an attribute value
		if inString {
			continue
		}

		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		indent := len(code) - len(strings.TrimLeft(code, " \t"))

		if !inClass {
			if indent == 0 && classLine.MatchString(trimmed) {
				inClass = true
			}
			continue
		}
		if bodyIndent < 0 {
			bodyIndent = indent
		}
		if indent < bodyIndent {
			break
		}
		if indent != bodyIndent {
			continue
		}

		match := assignment.FindStringSubmatch(trimmed)
		if match == nil {
			continue
		}
		st := statement{name: match[1], value: match[2], line: lineNo}
		depth = delta
		if depth > 0 || lex.triple != "" {
			pending = &st
			continue
		}
		stmts = append(stmts, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !inClass {
		return nil, fmt.Errorf("%w: no class definition", ErrSyntax)
	}
	if pending != nil {
		if lex.triple != "" {
			return nil, fmt.Errorf("%w: line %d: unterminated string in %s", ErrSyntax, pending.line, pending.name)
		}
		return nil, fmt.Errorf("%w: line %d: unclosed bracket in %s", ErrSyntax, pending.line, pending.name)
	}
	return stmts, nil
}

// lineLexer tracks string literals across lines. Only triple-quoted
// strings may span lines.
type lineLexer struct {
	triple string
}

// scan returns line without its trailing comment and the change in bracket
// depth outside string literals.
func (l *lineLexer) scan(line string) (string, int) {
	var (
		quote byte
		delta int
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case l.triple != "":
			if c == '\\' {
				i++
			} else if strings.HasPrefix(line[i:], l.triple) {
				i += len(l.triple) - 1
				l.triple = ""
			}
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '\'' || c == '"':
			if open := strings.Repeat(string(c), 3); strings.HasPrefix(line[i:], open) {
				l.triple = open
				i += 2
			} else {
				quote = c
			}
		case c == '#':
			return line[:i], delta
		case c == '(' || c == '[' || c == '{':
			delta++
		case c == ')' || c == ']' || c == '}':
			delta--
		}
	}
	return line, delta
}

type pyKind int

const (
	pyString pyKind = iota
	pyIdent
	pySeq
	pyDict
)

// pyValue is the subset of literal syntax found in recipe attributes.
type pyValue struct {
	kind  pyKind
	s     string
	items []pyValue
	pairs [][2]pyValue
}

func (v pyValue) text() string {
	switch v.kind {
	case pyString, pyIdent:
		return v.s
	case pySeq:
		return v.first()
	}
	return ""
}

// first returns the first scalar reached through nested sequences.
func (v pyValue) first() string {
	if v.kind == pySeq {
		if len(v.items) == 0 {
			return ""
		}
		return v.items[0].first()
	}
	return v.text()
}

func (v pyValue) elements() []pyValue {
	if v.kind == pySeq {
		return v.items
	}
	return []pyValue{v}
}

func (v pyValue) strings() []string {
	var out []string
	for _, item := range v.elements() {
		if item.kind == pySeq {
			out = append(out, item.strings()...)
			continue
		}
		out = append(out, item.text())
	}
	return out
}

type literalScanner struct {
	src string
	pos int
}

// parseExpr parses one attribute value. A bare comma-separated list is a
// tuple, as in the language the recipes are written in.
func parseExpr(src string) (pyValue, error) {
	sc := &literalScanner{src: src}
	first, err := sc.value()
	if err != nil {
		return pyValue{}, err
	}

	sc.skipSpace()
	if sc.done() {
		return first, nil
	}
	tuple := pyValue{kind: pySeq, items: []pyValue{first}}
	for !sc.done() {
		if sc.src[sc.pos] != ',' {
			return pyValue{}, sc.errorf("unexpected %q", sc.src[sc.pos])
		}
		sc.pos++
		sc.skipSpace()
		if sc.done() {
			break
		}
		next, err := sc.value()
		if err != nil {
			return pyValue{}, err
		}
		tuple.items = append(tuple.items, next)
		sc.skipSpace()
	}
	return tuple, nil
}

func (sc *literalScanner) done() bool { return sc.pos >= len(sc.src) }

func (sc *literalScanner) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: offset %d: %s", ErrSyntax, sc.pos, fmt.Sprintf(format, args...))
}

func (sc *literalScanner) skipSpace() {
	for !sc.done() && strings.IndexByte(" \t\r\n", sc.src[sc.pos]) >= 0 {
		sc.pos++
	}
}

func (sc *literalScanner) value() (pyValue, error) {
	sc.skipSpace()
	if sc.done() {
		return pyValue{}, sc.errorf("missing value")
	}

	switch c := sc.src[sc.pos]; c {
	case '\'', '"':
		s, err := sc.str(c)
		return pyValue{kind: pyString, s: s}, err
	case '(':
		return sc.seq(')')
	case '[':
		return sc.seq(']')
	case '{':
		return sc.dict()
	default:
		start := sc.pos
		for !sc.done() && isIdentByte(sc.src[sc.pos]) {
			sc.pos++
		}
		if start == sc.pos {
			return pyValue{}, sc.errorf("unexpected %q", c)
		}
		return pyValue{kind: pyIdent, s: sc.src[start:sc.pos]}, nil
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' || c == '+' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (sc *literalScanner) str(quote byte) (string, error) {
	closer := string(quote)
	if triple := strings.Repeat(closer, 3); strings.HasPrefix(sc.src[sc.pos:], triple) {
		closer = triple
	}
	sc.pos += len(closer)

	var b strings.Builder
	for !sc.done() {
		if strings.HasPrefix(sc.src[sc.pos:], closer) {
			sc.pos += len(closer)
			return b.String(), nil
		}
		c := sc.src[sc.pos]
		sc.pos++
		switch {
		case c == '\\' && !sc.done():
			esc := sc.src[sc.pos]
			sc.pos++
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case '\n':
				// line continuation
			default:
				b.WriteByte(esc)
			}
		case c == '\n' && len(closer) == 1:
			return "", sc.errorf("unterminated string")
		default:
			b.WriteByte(c)
		}
	}
	return "", sc.errorf("unterminated string")
}

// seq parses a list or tuple. A parenthesised single value without a
// trailing comma still yields a one-item sequence, which callers flatten.
func (sc *literalScanner) seq(closer byte) (pyValue, error) {
	sc.pos++
	v := pyValue{kind: pySeq}
	for {
		sc.skipSpace()
		if sc.done() {
			return pyValue{}, sc.errorf("missing %q", closer)
		}
		if sc.src[sc.pos] == closer {
			sc.pos++
			return v, nil
		}
		item, err := sc.value()
		if err != nil {
			return pyValue{}, err
		}
		v.items = append(v.items, item)
		if err := sc.separator(closer); err != nil {
			return pyValue{}, err
		}
	}
}

func (sc *literalScanner) dict() (pyValue, error) {
	sc.pos++
	v := pyValue{kind: pyDict}
	for {
		sc.skipSpace()
		if sc.done() {
			return pyValue{}, sc.errorf("missing '}'")
		}
		if sc.src[sc.pos] == '}' {
			sc.pos++
			return v, nil
		}
		key, err := sc.value()
		if err != nil {
			return pyValue{}, err
		}
		sc.skipSpace()
		if sc.done() || sc.src[sc.pos] != ':' {
			return pyValue{}, sc.errorf("expected ':'")
		}
		sc.pos++
		val, err := sc.value()
		if err != nil {
			return pyValue{}, err
		}
		v.pairs = append(v.pairs, [2]pyValue{key, val})
		if err := sc.separator('}'); err != nil {
			return pyValue{}, err
		}
	}
}

func (sc *literalScanner) separator(closer byte) error {
	sc.skipSpace()
	if sc.done() {
		return sc.errorf("missing %q", closer)
	}
	switch sc.src[sc.pos] {
	case ',':
		sc.pos++
		return nil
	case closer:
		return nil
	}
	return sc.errorf("unexpected %q", sc.src[sc.pos])
}
