package raw

import (
	"fmt"

	"github.com/despread/despread/scanner"
)

// TokenReader layers unread support and reference folding over a scanner.
// The "N G R" form is folded into a single Ref object here because it
// needs two tokens of lookahead.
type TokenReader struct {
	s   *scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s *scanner.Scanner) *TokenReader { return &TokenReader{s: s} }

// Scanner exposes the underlying scanner for stream length hints.
func (r *TokenReader) Scanner() *scanner.Scanner { return r.s }

func (r *TokenReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// ParseObject reads one PDF object from the token stream.
func ParseObject(tr *TokenReader) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return Name{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			if ref, ok, err := tryFoldRef(tr, tok); err != nil {
				return nil, err
			} else if ok {
				return ref, nil
			}
			return Number{I: tok.Int, IsInt: true}, nil
		}
		return Number{F: tok.Float}, nil
	case scanner.TokenString:
		return String{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenArrayOpen:
		return parseArray(tr)
	case scanner.TokenDictOpen:
		return parseDict(tr)
	case scanner.TokenKeyword:
		switch tok.Str {
		case "true":
			return Bool{V: true}, nil
		case "false":
			return Bool{V: false}, nil
		case "null":
			return Null{}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tokenLabel(tok), tok.Pos)
}

// tryFoldRef checks whether first begins an "N G R" reference.
func tryFoldRef(tr *TokenReader, first scanner.Token) (Ref, bool, error) {
	second, err := tr.Next()
	if err != nil {
		return Ref{}, false, nil // EOF after a number: plain number
	}
	if second.Type != scanner.TokenNumber || !second.IsInt || second.Int < 0 {
		tr.Unread(second)
		return Ref{}, false, nil
	}
	third, err := tr.Next()
	if err != nil {
		tr.Unread(second)
		return Ref{}, false, nil
	}
	if third.Type == scanner.TokenKeyword && third.Str == "R" {
		return NewRef(int(first.Int), int(second.Int)), true, nil
	}
	tr.Unread(third)
	tr.Unread(second)
	return Ref{}, false, nil
}

func parseArray(tr *TokenReader) (Object, error) {
	arr := &Array{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenArrayClose {
			return arr, nil
		}
		tr.Unread(tok)
		item, err := ParseObject(tr)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *TokenReader) (Object, error) {
	d := NewDict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenDictClose {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name key in dict, got %q at offset %d", tokenLabel(tok), tok.Pos)
		}
		val, err := ParseObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(tok.Str, val)
	}
}

func tokenLabel(tok scanner.Token) string {
	switch tok.Type {
	case scanner.TokenName:
		return "/" + tok.Str
	case scanner.TokenKeyword:
		return tok.Str
	case scanner.TokenNumber:
		if tok.IsInt {
			return fmt.Sprintf("%d", tok.Int)
		}
		return fmt.Sprintf("%g", tok.Float)
	case scanner.TokenString:
		return "string"
	case scanner.TokenStream:
		return "stream"
	case scanner.TokenDictOpen:
		return "<<"
	case scanner.TokenDictClose:
		return ">>"
	case scanner.TokenArrayOpen:
		return "["
	case scanner.TokenArrayClose:
		return "]"
	}
	return "?"
}
