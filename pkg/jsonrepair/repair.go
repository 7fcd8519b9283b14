// Package jsonrepair closes JSON text that was cut off mid-value.
//
// Repair keeps every complete value in the input, closes an unterminated
// string value, drops a trailing token that cannot be completed (a dangling
// key, a partial literal or number) and then closes the open containers.
package jsonrepair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnrepairable is returned when no JSON value can be recovered.
var ErrUnrepairable = errors.New("json not repairable")

var numberRE = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

var partialUnicodeRE = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$`)

type expect int

const (
	expectValue expect = iota
	expectValueOrEnd
	expectKey
	expectKeyOrEnd
	expectColon
	expectCommaOrEnd
)

type frame struct {
	open byte
	next expect
}

type repairer struct {
	src   string
	pos   int
	out   strings.Builder
	stack []frame
	done  bool

	// last point at which out could be closed into valid JSON
	safeLen   int
	safeStack []byte
}

// Repair returns s with its truncated tail fixed. Complete input is returned
// unchanged apart from anything after the first top-level value.
func Repair(s string) (string, error) {
	r := &repairer{src: s, safeLen: -1}
	if err := r.run(); err != nil {
		return "", err
	}
	if r.safeLen < 0 {
		return "", fmt.Errorf("%w: no complete value", ErrUnrepairable)
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(r.out.String()[:r.safeLen], " \t\r\n"))
	for i := len(r.safeStack) - 1; i >= 0; i-- {
		if r.safeStack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String(), nil
}

func (r *repairer) run() error {
	for r.pos < len(r.src) && !r.done {
		c := r.src[r.pos]
		if isSpace(c) {
			r.out.WriteByte(c)
			r.pos++
			continue
		}
		if len(r.stack) == 0 {
			if err := r.value(); err != nil {
				return err
			}
			continue
		}
		top := &r.stack[len(r.stack)-1]
		switch top.next {
		case expectKeyOrEnd, expectKey:
			switch {
			case c == '"':
				if err := r.str(true); err != nil {
					return err
				}
			case c == '}' && top.next == expectKeyOrEnd:
				r.close(c)
			default:
				return r.unexpected(c)
			}
		case expectColon:
			if c != ':' {
				return r.unexpected(c)
			}
			r.emit(c)
			top.next = expectValue
		case expectValue, expectValueOrEnd:
			if c == ']' && top.next == expectValueOrEnd {
				r.close(c)
				continue
			}
			if err := r.value(); err != nil {
				return err
			}
		case expectCommaOrEnd:
			switch {
			case c == ',':
				r.emit(c)
				if top.open == '{' {
					top.next = expectKey
				} else {
					top.next = expectValue
				}
			case c == '}' && top.open == '{', c == ']' && top.open == '[':
				r.close(c)
			default:
				return r.unexpected(c)
			}
		}
	}
	return nil
}

func (r *repairer) value() error {
	c := r.src[r.pos]
	switch {
	case c == '{':
		r.emit(c)
		r.stack = append(r.stack, frame{open: '{', next: expectKeyOrEnd})
		r.markSafe()
	case c == '[':
		r.emit(c)
		r.stack = append(r.stack, frame{open: '[', next: expectValueOrEnd})
		r.markSafe()
	case c == '"':
		return r.str(false)
	case c == '-' || (c >= '0' && c <= '9'):
		return r.number()
	case c >= 'a' && c <= 'z':
		return r.literal()
	default:
		return r.unexpected(c)
	}
	return nil
}

// str consumes a string starting at the opening quote.
func (r *repairer) str(key bool) error {
	start := r.pos
	i := r.pos + 1
	for i < len(r.src) {
		switch r.src[i] {
		case '\\':
			i += 2
			continue
		case '"':
			r.out.WriteString(r.src[start : i+1])
			r.pos = i + 1
			if key {
				r.stack[len(r.stack)-1].next = expectColon
			} else {
				r.valueDone()
			}
			return nil
		}
		i++
	}

	// Input ended inside the string.
	r.pos = len(r.src)
	if key {
		return nil
	}
	r.out.WriteString(trimPartialEscape(r.src[start:]))
	r.out.WriteByte('"')
	r.valueDone()
	return nil
}

func (r *repairer) number() error {
	start := r.pos
	for r.pos < len(r.src) && strings.IndexByte("+-.eE0123456789", r.src[r.pos]) >= 0 {
		r.pos++
	}
	tok := r.src[start:r.pos]
	if !numberRE.MatchString(tok) {
		if r.pos == len(r.src) {
			return nil
		}
		return fmt.Errorf("%w: invalid number %q at offset %d", ErrUnrepairable, tok, start)
	}
	r.out.WriteString(tok)
	r.valueDone()
	return nil
}

func (r *repairer) literal() error {
	start := r.pos
	for r.pos < len(r.src) && r.src[r.pos] >= 'a' && r.src[r.pos] <= 'z' {
		r.pos++
	}
	tok := r.src[start:r.pos]
	switch tok {
	case "true", "false", "null":
		r.out.WriteString(tok)
		r.valueDone()
		return nil
	}
	if r.pos == len(r.src) && (strings.HasPrefix("true", tok) || strings.HasPrefix("false", tok) || strings.HasPrefix("null", tok)) {
		return nil
	}
	return fmt.Errorf("%w: invalid literal %q at offset %d", ErrUnrepairable, tok, start)
}

func (r *repairer) close(c byte) {
	r.emit(c)
	r.stack = r.stack[:len(r.stack)-1]
	r.valueDone()
}

func (r *repairer) valueDone() {
	if len(r.stack) == 0 {
		r.done = true
	} else {
		r.stack[len(r.stack)-1].next = expectCommaOrEnd
	}
	r.markSafe()
}

func (r *repairer) emit(c byte) {
	r.out.WriteByte(c)
	r.pos++
}

func (r *repairer) markSafe() {
	r.safeLen = r.out.Len()
	r.safeStack = r.safeStack[:0]
	for _, f := range r.stack {
		r.safeStack = append(r.safeStack, f.open)
	}
}

func (r *repairer) unexpected(c byte) error {
	return fmt.Errorf("%w: unexpected %q at offset %d", ErrUnrepairable, c, r.pos)
}

// trimPartialEscape drops an escape sequence cut off at the end of s.
func trimPartialEscape(s string) string {
	if loc := partialUnicodeRE.FindStringIndex(s); loc != nil && oddBackslashesBefore(s, loc[0]+1) {
		return s[:loc[0]]
	}
	if strings.HasSuffix(s, `\`) && oddBackslashesBefore(s, len(s)) {
		return s[:len(s)-1]
	}
	return s
}

// oddBackslashesBefore reports whether the run of backslashes ending just
// before end has odd length, i.e. the last one starts an escape.
func oddBackslashesBefore(s string, end int) bool {
	n := 0
	for i := end - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
