// Package xref locates indirect objects: it parses classic
// cross-reference tables, cross-reference streams, and the Prev/XRefStm
// chains of incrementally updated and hybrid files.
package xref

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/despread/despread/filters"
	"github.com/despread/despread/raw"
	"github.com/despread/despread/scanner"
)

// EntryKind distinguishes the three cross-reference entry types.
type EntryKind int

const (
	Free EntryKind = iota
	InFile
	InObjectStream
)

// Entry locates one indirect object.
type Entry struct {
	Kind      EntryKind
	Offset    int64 // InFile: byte offset of "N G obj"
	Gen       int
	StreamNum int // InObjectStream: object number of the container stream
	StreamIdx int // InObjectStream: index within the container
}

// Table maps object numbers to their locations.
type Table struct {
	entries map[int]Entry
	trailer *raw.Dict
}

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects returns all allocated object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Kind == Free {
			continue
		}
		out = append(out, num)
	}
	sort.Ints(out)
	return out
}

func (t *Table) Trailer() *raw.Dict { return t.trailer }

const tailWindow = 2048 // startxref sits in the last kilobyte; allow slack

// Resolve walks the cross-reference chain of the file. On a damaged
// chain it falls back to a full repair scan.
func Resolve(r io.ReaderAt, size int64) (*Table, error) {
	t, err := resolveChain(r, size)
	if err == nil {
		return t, nil
	}
	repaired, rerr := Repair(r)
	if rerr != nil {
		return nil, fmt.Errorf("resolve xref: %w (repair also failed: %v)", err, rerr)
	}
	return repaired, nil
}

func resolveChain(r io.ReaderAt, size int64) (*Table, error) {
	start, err := findStartXRef(r, size)
	if err != nil {
		return nil, err
	}

	t := &Table{entries: make(map[int]Entry)}
	var trailers []*raw.Dict
	visited := make(map[int64]bool)
	queue := []int64{start}

	for len(queue) > 0 {
		offset := queue[0]
		queue = queue[1:]
		if visited[offset] {
			continue
		}
		visited[offset] = true
		if offset <= 0 || offset >= size {
			return nil, fmt.Errorf("xref offset out of range: %d", offset)
		}

		trailer, err := parseSection(r, offset, t)
		if err != nil {
			return nil, err
		}
		trailers = append(trailers, trailer)

		// Hybrid files: the classic trailer points at a parallel xref
		// stream whose entries fill in compressed objects.
		if v, ok := trailer.Int("XRefStm"); ok {
			queue = append(queue, v)
		}
		if v, ok := trailer.Int("Prev"); ok {
			queue = append(queue, v)
		}
	}

	if len(trailers) == 0 {
		return nil, errors.New("no trailer found")
	}
	// Newest update wins; older trailers only fill gaps.
	t.trailer = trailers[0]
	for _, older := range trailers[1:] {
		for k, v := range older.KV {
			if _, ok := t.trailer.Get(k); !ok {
				t.trailer.Set(k, v)
			}
		}
	}
	if len(t.entries) == 0 {
		return nil, errors.New("empty cross-reference table")
	}
	return t, nil
}

func findStartXRef(r io.ReaderAt, size int64) (int64, error) {
	window := int64(tailWindow)
	if window > size {
		window = size
	}
	tail := make([]byte, window)
	if _, err := r.ReadAt(tail, size-window); err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := strings.TrimSpace(string(tail[idx+len("startxref"):]))
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, errors.New("startxref value missing")
	}
	off, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	return off, nil
}

// parseSection reads one xref section (classic table or xref stream) at
// offset, adding entries that are not yet present. Returns its trailer.
func parseSection(r io.ReaderAt, offset int64, t *Table) (*raw.Dict, error) {
	s := scanner.New(r, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewTokenReader(s)
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return parseClassic(tr, t)
	}
	tr.Unread(tok)
	return parseStreamSection(tr, t)
}

func parseClassic(tr *raw.TokenReader, t *Table) (*raw.Dict, error) {
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := raw.ParseObject(tr)
			if err != nil {
				return nil, fmt.Errorf("parse trailer: %w", err)
			}
			dict, ok := obj.(*raw.Dict)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return dict, nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		startObj := int(tok.Int)
		cntTok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if cntTok.Type != scanner.TokenNumber || !cntTok.IsInt {
			return nil, errors.New("invalid xref subsection count")
		}
		count := int(cntTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := tr.Next()
			if err != nil {
				return nil, err
			}
			genTok, err := tr.Next()
			if err != nil {
				return nil, err
			}
			kindTok, err := tr.Next()
			if err != nil {
				return nil, err
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			num := startObj + i
			if _, exists := t.entries[num]; exists {
				continue // newer update already defined it
			}
			switch kindTok.Str {
			case "n":
				t.entries[num] = Entry{Kind: InFile, Offset: offTok.Int, Gen: int(genTok.Int)}
			case "f":
				t.entries[num] = Entry{Kind: Free, Gen: int(genTok.Int)}
			default:
				return nil, fmt.Errorf("invalid xref entry kind %q", kindTok.Str)
			}
		}
	}
}

func parseStreamSection(tr *raw.TokenReader, t *Table) (*raw.Dict, error) {
	// "N G obj" header
	numTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	genTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	objTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if numTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber ||
		objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, errors.New("xref offset points at neither a table nor a stream object")
	}
	obj, err := raw.ParseObject(tr)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.Dict)
	if !ok {
		return nil, errors.New("xref stream object is not a dictionary")
	}
	if typ, _ := dict.Name("Type"); typ != "XRef" {
		return nil, fmt.Errorf("expected /Type /XRef, got /%s", typ)
	}
	// /Length must be direct here: references cannot be resolved yet.
	if l, ok := dict.Int("Length"); ok {
		tr.Scanner().SetNextStreamLength(l)
	} else {
		tr.Scanner().SetNextStreamLength(-1)
	}
	streamTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if streamTok.Type != scanner.TokenStream {
		return nil, errors.New("xref stream payload missing")
	}

	names, params := filters.ForStream(dict, nil)
	data := streamTok.Bytes
	if len(names) > 0 {
		data, err = filters.NewDefault(filters.Limits{}).Decode(data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode xref stream: %w", err)
		}
	}

	widths, err := streamWidths(dict)
	if err != nil {
		return nil, err
	}
	index, err := streamIndex(dict)
	if err != nil {
		return nil, err
	}

	rowLen := widths[0] + widths[1] + widths[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for n := 0; n < count; n++ {
			if pos+rowLen > len(data) {
				return nil, errors.New("xref stream data truncated")
			}
			f1 := readField(data[pos:pos+widths[0]], 1) // type defaults to 1
			pos += widths[0]
			f2 := readField(data[pos:pos+widths[1]], 0)
			pos += widths[1]
			f3 := readField(data[pos:pos+widths[2]], 0)
			pos += widths[2]

			num := start + n
			if _, exists := t.entries[num]; exists {
				continue
			}
			switch f1 {
			case 0:
				t.entries[num] = Entry{Kind: Free, Gen: int(f3)}
			case 1:
				t.entries[num] = Entry{Kind: InFile, Offset: f2, Gen: int(f3)}
			case 2:
				t.entries[num] = Entry{Kind: InObjectStream, StreamNum: int(f2), StreamIdx: int(f3)}
			default:
				// Unknown types shall be treated as references to null.
			}
		}
	}
	return dict, nil
}

func streamWidths(dict *raw.Dict) ([3]int, error) {
	var widths [3]int
	wObj, ok := dict.Get("W")
	if !ok {
		return widths, errors.New("xref stream missing W")
	}
	wArr, ok := wObj.(*raw.Array)
	if !ok || wArr.Len() < 3 {
		return widths, errors.New("xref stream W malformed")
	}
	for i := 0; i < 3; i++ {
		n, ok := wArr.Items[i].(raw.Number)
		if !ok || !n.IsInt || n.I < 0 || n.I > 8 {
			return widths, errors.New("xref stream W malformed")
		}
		widths[i] = int(n.I)
	}
	return widths, nil
}

func streamIndex(dict *raw.Dict) ([]int, error) {
	if idxObj, ok := dict.Get("Index"); ok {
		arr, ok := idxObj.(*raw.Array)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("xref stream Index malformed")
		}
		out := make([]int, 0, arr.Len())
		for _, it := range arr.Items {
			n, ok := it.(raw.Number)
			if !ok || !n.IsInt {
				return nil, errors.New("xref stream Index malformed")
			}
			out = append(out, int(n.I))
		}
		return out, nil
	}
	size, ok := dict.Int("Size")
	if !ok {
		return nil, errors.New("xref stream missing Size")
	}
	return []int{0, int(size)}, nil
}

func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
