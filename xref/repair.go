package xref

import (
	"errors"
	"io"

	"github.com/despread/despread/raw"
	"github.com/despread/despread/scanner"
)

// Repair reconstructs a cross-reference table by scanning the whole file
// for "N G obj" patterns and trailer dictionaries. Used when the stored
// chain is damaged. Objects living inside object streams are found
// indirectly: their container is discovered here and unpacked later by
// the parser.
func Repair(r io.ReaderAt) (*Table, error) {
	s := scanner.New(r, scanner.Config{})
	entries := make(map[int]Entry)
	var lastTrailer *raw.Dict

	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip the offending byte and keep scanning.
			if serr := s.SeekTo(s.Position() + 1); serr != nil {
				break
			}
			continue
		}

		if tok.Type == scanner.TokenNumber && tok.IsInt {
			objNum := int(tok.Int)

			genTok, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				continue
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				continue
			}

			objTok, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				continue
			}
			if objTok.Type == scanner.TokenKeyword && objTok.Str == "obj" {
				// Later definitions overwrite earlier ones, which makes
				// incremental updates come out right in a linear scan.
				entries[objNum] = Entry{Kind: InFile, Offset: tok.Pos, Gen: int(genTok.Int)}
				continue
			}
			// Not an object header; genTok may itself start one ("1 2 0 obj").
			if err := s.SeekTo(genTok.Pos); err != nil {
				return nil, err
			}
			continue
		}

		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			tr := raw.NewTokenReader(s)
			if obj, err := raw.ParseObject(tr); err == nil {
				if dict, ok := obj.(*raw.Dict); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	if lastTrailer == nil {
		lastTrailer = raw.NewDict()
		lastTrailer.Set("Size", raw.Int(int64(len(entries)+1)))
	}
	return &Table{entries: entries, trailer: lastTrailer}, nil
}
