package discovery

import (
	"fmt"
	"go/scanner"
	"go/token"
	"strings"
)

// MinifyGo compacts Go source text.
//
// Comments are dropped. Tokens are re-joined with a space only where two words or
// two operators would otherwise fuse, and a newline is kept only where the scanner
// inserted an automatic semicolon.
func MinifyGo(src string) (string, error) {
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))

	var scanErr error
	var s scanner.Scanner
	s.Init(file, []byte(src), func(pos token.Position, msg string) {
		if scanErr == nil {
			scanErr = fmt.Errorf("minify go at %s: %s", pos, msg)
		}
	}, 0)

	var out strings.Builder
	out.Grow(len(src))
	prev := token.ILLEGAL
	for {
		_, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		if tok == token.SEMICOLON {
			if lit == "\n" {
				out.WriteByte('\n')
			} else {
				out.WriteByte(';')
			}
			prev = token.SEMICOLON
			continue
		}

		text := lit
		if text == "" {
			text = tok.String()
		}
		if needsSpace(prev, tok) {
			out.WriteByte(' ')
		}
		out.WriteString(text)
		prev = tok
	}
	if scanErr != nil {
		return "", scanErr
	}

	return strings.TrimSpace(out.String()), nil
}

func needsSpace(prev token.Token, next token.Token) bool {
	if prev == token.ILLEGAL || prev == token.SEMICOLON {
		return false
	}
	if isWord(prev) && isWord(next) {
		return true
	}
	// "a - -b" and "x < -y" must not fuse into "--" or "<-".
	return prev.IsOperator() && next.IsOperator() && !isDelimiter(prev) && !isDelimiter(next)
}

func isWord(tok token.Token) bool {
	return tok == token.IDENT || tok.IsKeyword() || tok.IsLiteral()
}

func isDelimiter(tok token.Token) bool {
	switch tok {
	case token.LPAREN, token.RPAREN, token.LBRACK, token.RBRACK, token.LBRACE, token.RBRACE,
		token.COMMA, token.SEMICOLON, token.COLON, token.PERIOD, token.ELLIPSIS:
		return true
	default:
		return false
	}
}

// MinifyLua compacts Lua source text.
//
// Line and block comments are dropped, runs of blanks collapse to one space,
// blank lines collapse, and blanks around ( ) { } [ ] , ; = are removed. String
// literals and long brackets are copied verbatim.
func MinifyLua(src string) string {
	m := luaMinifier{src: src}
	m.run()

	return m.out.String()
}

type luaMinifier struct {
	src string
	out strings.Builder

	pendingSpace   bool
	pendingNewline bool
}

func (m *luaMinifier) run() {
	for pos := 0; pos < len(m.src); {
		c := m.src[pos]
		switch {
		case strings.HasPrefix(m.src[pos:], "--"):
			if closeAt, ok := longBracketEnd(m.src, pos+2); ok {
				pos = closeAt
				m.pendingSpace = true
				continue
			}
			next := strings.IndexByte(m.src[pos:], '\n')
			if next < 0 {
				return
			}
			pos += next
		case c == '"' || c == '\'':
			end := quotedEnd(m.src, pos)
			m.emit(m.src[pos:end])
			pos = end
		case c == '[':
			if closeAt, ok := longBracketEnd(m.src, pos); ok {
				m.emit(m.src[pos:closeAt])
				pos = closeAt
				continue
			}
			m.emit("[")
			pos++
		case c == '\n':
			if m.out.Len() > 0 {
				m.pendingNewline = true
			}
			pos++
		case c == ' ' || c == '\t' || c == '\r':
			m.pendingSpace = true
			pos++
		default:
			m.emit(m.src[pos : pos+1])
			pos++
		}
	}
}

func (m *luaMinifier) emit(text string) {
	switch {
	case m.pendingNewline:
		m.out.WriteByte('\n')
	case m.pendingSpace && m.out.Len() > 0:
		last := m.out.String()[m.out.Len()-1]
		if !isLuaPunct(last) && !isLuaPunct(text[0]) {
			m.out.WriteByte(' ')
		}
	}
	m.pendingNewline = false
	m.pendingSpace = false
	m.out.WriteString(text)
}

func isLuaPunct(c byte) bool {
	return strings.IndexByte("(){}[],;=", c) >= 0
}

// quotedEnd returns the index just past the string literal opening at start.
func quotedEnd(src string, start int) int {
	quote := src[start]
	for pos := start + 1; pos < len(src); pos++ {
		switch src[pos] {
		case '\\':
			pos++
		case quote, '\n':
			return pos + 1
		}
	}

	return len(src)
}

// longBracketEnd reports whether a long bracket ([[, [=[, ...) opens at start and
// returns the index just past its matching close.
func longBracketEnd(src string, start int) (int, bool) {
	if start >= len(src) || src[start] != '[' {
		return 0, false
	}
	level := 0
	pos := start + 1
	for pos < len(src) && src[pos] == '=' {
		level++
		pos++
	}
	if pos >= len(src) || src[pos] != '[' {
		return 0, false
	}

	closing := "]" + strings.Repeat("=", level) + "]"
	idx := strings.Index(src[pos+1:], closing)
	if idx < 0 {
		return len(src), true
	}

	return pos + 1 + idx + len(closing), true
}
