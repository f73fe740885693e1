// Package scanner tokenizes PDF syntax. It buffers data from an
// io.ReaderAt in fixed-size windows so large scans are not read twice.
package scanner

import (
	"bytes"
	"errors"
	"io"
)

type TokenType int

const (
	TokenDictOpen  TokenType = iota // '<<'
	TokenDictClose                  // '>>'
	TokenArrayOpen                  // '['
	TokenArrayClose                 // ']'
	TokenName                       // /Name
	TokenString                     // literal or hex string
	TokenNumber                     // integer or real
	TokenKeyword                    // obj, endobj, stream, R, true, false, null, ...
	TokenStream                     // stream payload bytes
)

type Token struct {
	Type  TokenType
	Str   string // TokenName, TokenKeyword
	Bytes []byte // TokenString, TokenStream
	Hex   bool   // TokenString: source was a hex string
	Int   int64
	Float float64
	IsInt bool
	Pos   int64
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	WindowSize      int64
}

// Scanner reads PDF tokens from a byte source.
type Scanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
}

// New returns a scanner over r.
func New(r io.ReaderAt, cfg Config) *Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &Scanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *Scanner) Position() int64 { return s.pos }

// SeekTo repositions the scanner at an absolute byte offset.
func (s *Scanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength declares the /Length of the next stream payload so
// it can be consumed without searching for the endstream keyword.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *Scanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDictOpen, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenDictClose, Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArrayOpen, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenArrayClose, Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	if isNumberStart(c) {
		return s.scanNumber()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *Scanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if s.pos >= int64(len(s.data)) {
					return io.EOF
				}
				if s.data[s.pos] == '\n' || s.data[s.pos] == '\r' {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *Scanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF {
		s.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	if n == 0 {
		s.eof = true
	}
	return nil
}

func (s *Scanner) peekAhead(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func isRegular(c byte) bool { return !isDelimiter(c) }

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' {
			s.pos++
			a := s.hexNibble()
			b := s.hexNibble()
			out.WriteByte((a << 4) | b)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) hexNibble() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	c := s.data[s.pos]
	s.pos++
	return fromHex(c)
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func (s *Scanner) scanNumber() (Token, error) {
	start := s.pos
	var raw []byte
	isInt := true
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '.' {
			isInt = false
			raw = append(raw, c)
			s.pos++
			continue
		}
		if c == '+' || c == '-' || (c >= '0' && c <= '9') {
			raw = append(raw, c)
			s.pos++
			continue
		}
		break
	}
	tok := Token{Type: TokenNumber, IsInt: isInt, Pos: start}
	if isInt {
		tok.Int = parseInt(raw)
		tok.Float = float64(tok.Int)
	} else {
		tok.Float = parseReal(raw)
	}
	return tok, nil
}

// parseInt avoids strconv so malformed sequences like "--5" degrade to 0
// instead of failing the whole scan.
func parseInt(b []byte) int64 {
	var v int64
	neg := false
	for i, c := range b {
		if c == '-' {
			if i == 0 {
				neg = true
			}
			continue
		}
		if c == '+' {
			continue
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		return -v
	}
	return v
}

func parseReal(b []byte) float64 {
	var intPart, fracPart float64
	fracScale := 1.0
	neg := false
	afterDot := false
	for i, c := range b {
		switch {
		case c == '-':
			if i == 0 {
				neg = true
			}
		case c == '+':
		case c == '.':
			afterDot = true
		case c >= '0' && c <= '9':
			if afterDot {
				fracScale /= 10
				fracPart += float64(c-'0') * fracScale
			} else {
				intPart = intPart*10 + float64(c-'0')
			}
		}
	}
	v := intPart + fracPart
	if neg {
		return -v
	}
	return v
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	var out []byte
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		out = append(out, c)
		s.pos++
	}
	kw := string(out)
	if kw == "stream" {
		return s.scanStream(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			return Token{}, errors.New("unterminated literal string")
		}
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
			if s.pos >= int64(len(s.data)) {
				return Token{}, errors.New("unterminated literal string")
			}
			esc := s.data[s.pos]
			// Line continuation: backslash before EOL is dropped.
			if esc == '\r' {
				s.pos++
				if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
				continue
			}
			if esc == '\n' {
				s.pos++
				continue
			}
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2; k++ {
					if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
						break
					}
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
			continue
		}
		if c == '(' {
			depth++
			buf.WriteByte(c)
			s.pos++
			continue
		}
		if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
			buf.WriteByte(c)
			s.pos++
			continue
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c // includes \\, \(, \)
	}
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var hexbuf []byte
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			return Token{}, errors.New("unterminated hex string")
		}
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		hexbuf = append(hexbuf, c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
			return Token{}, errors.New("hex string too long")
		}
	}
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, (fromHex(hexbuf[i])<<4)|fromHex(hexbuf[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

// scanStream consumes the payload following a stream keyword. The length
// hint set via SetNextStreamLength is preferred; without one the payload
// runs to the next endstream keyword.
func (s *Scanner) scanStream(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1

	if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	if s.pos >= int64(len(s.data)) {
		return Token{}, errors.New("stream truncated before data")
	}
	// An EOL must separate the keyword from the data.
	if s.data[s.pos] == '\r' {
		s.pos++
		if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
			s.pos++
		}
	} else if s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		if hint > 0 {
			if err := s.ensure(dataStart + hint - 1); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
		}
		end := dataStart + hint
		if end > int64(len(s.data)) {
			return Token{}, errors.New("stream ended before declared length")
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		s.skipToEndstream()
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}

	// No hint: load everything and search.
	for !s.eof {
		if err := s.loadMore(); err != nil {
			return Token{}, err
		}
	}
	idx := bytes.Index(s.data[dataStart:], []byte("endstream"))
	if idx < 0 {
		return Token{}, errors.New("endstream not found")
	}
	end := dataStart + int64(idx)
	// Trim the EOL that belongs to the endstream keyword, not the data.
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	s.pos = dataStart + int64(idx) + int64(len("endstream"))
	return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
}

func (s *Scanner) skipToEndstream() {
	if err := s.ensure(s.pos + 2); err != nil && !errors.Is(err, io.EOF) {
		return
	}
	for s.pos < int64(len(s.data)) && isWhitespace(s.data[s.pos]) {
		s.pos++
		if err := s.ensure(s.pos); err != nil {
			return
		}
	}
	needle := []byte("endstream")
	if err := s.ensure(s.pos + int64(len(needle))); err != nil && !errors.Is(err, io.EOF) {
		return
	}
	if s.pos+int64(len(needle)) <= int64(len(s.data)) && bytes.Equal(s.data[s.pos:s.pos+int64(len(needle))], needle) {
		s.pos += int64(len(needle))
		return
	}
	// Declared length was wrong; search forward.
	for !s.eof {
		if s.loadMore() != nil {
			return
		}
	}
	if idx := bytes.Index(s.data[s.pos:], needle); idx >= 0 {
		s.pos += int64(idx) + int64(len(needle))
	}
}
