package gateway

import (
	"strings"
)

type tokenKind int

const (
	tokPunct tokenKind = iota
	tokWord
	tokIdent // quoted identifier; text holds the unquoted name
	tokString
	tokNumber
)

type token struct {
	kind       tokenKind
	text       string
	start, end int
	// depth is the number of enclosing parentheses.
	depth int
}

func (t token) is(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

func (t token) isPunct(c byte) bool {
	return t.kind == tokPunct && len(t.text) == 1 && t.text[0] == c
}

func (t token) isName() bool {
	return t.kind == tokWord || t.kind == tokIdent
}

// tokenize splits a statement into tokens, dropping whitespace and comments. String
// literals and quoted identifiers are kept whole so keywords inside them are never matched.
func tokenize(s string) ([]token, error) {
	var toks []token
	depth := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
		case c == '#':
			// A line comment on MySQL and ClickHouse, an operator elsewhere.
			return nil, &ValidationError{Reason: "'#' is not allowed"}
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			// MySQL only reads "--" as a comment when whitespace follows.
			if i+2 < len(s) && !isSpace(s[i+2]) {
				return nil, &ValidationError{Reason: "'--' must be followed by a space"}
			}
			if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = len(s)
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			if i+2 < len(s) && s[i+2] == '!' {
				return nil, &ValidationError{Reason: "executable comments are not allowed"}
			}
			j := strings.Index(s[i+2:], "*/")
			if j < 0 {
				return nil, &ValidationError{Reason: "unterminated comment"}
			}
			i += j + 4
		case c == '\'':
			end, ok := scanQuoted(s, i, '\'')
			if !ok {
				return nil, &ValidationError{Reason: "unterminated string literal"}
			}
			toks = append(toks, token{kind: tokString, text: s[i:end], start: i, end: end, depth: depth})
			i = end
		case c == '"' || c == '`':
			end, ok := scanQuoted(s, i, c)
			if !ok {
				return nil, &ValidationError{Reason: "unterminated quoted identifier"}
			}
			q := string(c)
			name := strings.ReplaceAll(s[i+1:end-1], q+q, q)
			toks = append(toks, token{kind: tokIdent, text: name, start: i, end: end, depth: depth})
			i = end
		case c == '$' && dollarTag(s[i:]) != "":
			tag := dollarTag(s[i:])
			j := strings.Index(s[i+len(tag):], tag)
			if j < 0 {
				return nil, &ValidationError{Reason: "unterminated dollar-quoted string"}
			}
			end := i + len(tag) + j + len(tag)
			toks = append(toks, token{kind: tokString, text: s[i:end], start: i, end: end, depth: depth})
			i = end
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: s[i:j], start: i, end: j, depth: depth})
			i = j
		case isDigit(c) || (c == '.' && i+1 < len(s) && isDigit(s[i+1])):
			j := i + 1
			for j < len(s) && (isDigit(s[j]) || s[j] == '.' || s[j] == 'e' || s[j] == 'E' || s[j] == '_') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: s[i:j], start: i, end: j, depth: depth})
			i = j
		default:
			switch c {
			case '(':
				toks = append(toks, token{kind: tokPunct, text: "(", start: i, end: i + 1, depth: depth})
				depth++
			case ')':
				depth--
				if depth < 0 {
					return nil, &ValidationError{Reason: "unbalanced parentheses"}
				}
				toks = append(toks, token{kind: tokPunct, text: ")", start: i, end: i + 1, depth: depth})
			default:
				toks = append(toks, token{kind: tokPunct, text: s[i : i+1], start: i, end: i + 1, depth: depth})
			}
			i++
		}
	}
	if depth != 0 {
		return nil, &ValidationError{Reason: "unbalanced parentheses"}
	}
	return toks, nil
}

// scanQuoted returns the index just past the closing quote. A doubled quote is an escape.
func scanQuoted(s string, i int, q byte) (int, bool) {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1, true
	}
	return 0, false
}

// dollarTag returns the opening $tag$ at the start of s, or "".
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1]
		}
		if !(c == '_' || isLetter(c) || (j > 1 && isDigit(c))) {
			return ""
		}
	}
	return ""
}

// matchParen returns the index of the parenthesis closing the one at i.
func matchParen(toks []token, i int) int {
	for j := i + 1; j < len(toks); j++ {
		if toks[j].isPunct(')') && toks[j].depth == toks[i].depth {
			return j
		}
	}
	return len(toks) - 1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return isLetter(c) || c == '_' || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
