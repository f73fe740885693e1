// Package parser turns PDF bytes into a raw.Document. It loads every
// object reachable through the cross-reference table, unpacking object
// streams along the way.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/despread/despread/filters"
	"github.com/despread/despread/raw"
	"github.com/despread/despread/scanner"
	"github.com/despread/despread/xref"
)

// ErrEncrypted marks password-protected input, which this tool does not
// open. Decrypt the file first.
var ErrEncrypted = errors.New("document is encrypted")

type Config struct {
	Limits filters.Limits
	// ScannerLimits bound token sizes while loading objects.
	ScannerLimits scanner.Config
}

// Parse reads a whole document. size is the byte length of r.
func Parse(ctx context.Context, r io.ReaderAt, size int64, cfg Config) (*raw.Document, error) {
	table, err := xref.Resolve(r, size)
	if err != nil {
		return nil, err
	}
	trailer := table.Trailer()
	if _, ok := trailer.Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	l := &loader{
		reader:  r,
		table:   table,
		cfg:     cfg,
		filters: filters.NewDefault(cfg.Limits),
		loaded:  make(map[int]raw.Object),
		loading: make(map[int]bool),
		objstm:  make(map[int]map[int]raw.Object),
	}

	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Trailer: trailer,
		Version: headerVersion(r),
	}

	for _, num := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, _ := table.Lookup(num)
		obj, err := l.load(num)
		if err != nil {
			return nil, fmt.Errorf("load object %d: %w", num, err)
		}
		gen := 0
		if entry.Kind == xref.InFile {
			gen = entry.Gen
		}
		doc.Objects[raw.ObjectRef{Num: num, Gen: gen}] = obj
	}

	if err := ensureRoot(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type loader struct {
	reader  io.ReaderAt
	table   *xref.Table
	cfg     Config
	filters *filters.Pipeline
	scanner *scanner.Scanner
	loaded  map[int]raw.Object
	loading map[int]bool
	objstm  map[int]map[int]raw.Object
}

func (l *loader) load(num int) (raw.Object, error) {
	if obj, ok := l.loaded[num]; ok {
		return obj, nil
	}
	if l.loading[num] {
		return nil, fmt.Errorf("reference cycle through object %d", num)
	}
	l.loading[num] = true
	defer delete(l.loading, num)

	entry, ok := l.table.Lookup(num)
	if !ok || entry.Kind == xref.Free {
		return raw.Null{}, nil
	}

	var obj raw.Object
	var err error
	switch entry.Kind {
	case xref.InFile:
		obj, err = l.loadAtOffset(num, entry.Offset, entry.Gen)
	case xref.InObjectStream:
		obj, err = l.loadFromObjectStream(num, entry.StreamNum, entry.StreamIdx)
	}
	if err != nil {
		return nil, err
	}
	l.loaded[num] = obj
	return obj, nil
}

func (l *loader) loadAtOffset(objNum int, offset int64, gen int) (raw.Object, error) {
	if l.scanner == nil {
		l.scanner = scanner.New(l.reader, l.cfg.ScannerLimits)
	}
	s := l.scanner
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := raw.NewTokenReader(s)

	numTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt || int(numTok.Int) != objNum {
		return nil, errors.New("object header number mismatch")
	}
	genTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return nil, errors.New("object header generation malformed")
	}
	objTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, errors.New("expected obj keyword")
	}

	obj, err := raw.ParseObject(tr)
	if err != nil {
		return nil, err
	}

	if dict, ok := obj.(*raw.Dict); ok {
		// Resolving an indirect /Length reuses the shared scanner and
		// moves its cursor; remember where the dictionary ended.
		afterDict := s.Position()
		length, err := l.resolveStreamLength(dict)
		if err != nil {
			return nil, err
		}
		if err := s.SeekTo(afterDict); err != nil {
			return nil, err
		}
		s.SetNextStreamLength(length)
		if streamTok, err := tr.Next(); err == nil {
			if streamTok.Type == scanner.TokenStream {
				obj = raw.NewStream(dict, streamTok.Bytes)
			} else {
				tr.Unread(streamTok)
			}
		}
		s.SetNextStreamLength(-1)
	}
	return obj, nil
}

// resolveStreamLength resolves /Length, loading the referenced object
// when the length is indirect. Returns -1 when absent so the scanner
// falls back to searching for endstream.
func (l *loader) resolveStreamLength(dict *raw.Dict) (int64, error) {
	v, ok := dict.Get("Length")
	if !ok {
		return -1, nil
	}
	switch n := v.(type) {
	case raw.Number:
		if n.IsInt {
			return n.I, nil
		}
	case raw.Ref:
		target, err := l.load(n.R.Num)
		if err != nil {
			return -1, fmt.Errorf("resolve stream length: %w", err)
		}
		if num, ok := target.(raw.Number); ok && num.IsInt {
			return num.I, nil
		}
	}
	return -1, nil
}

func (l *loader) loadFromObjectStream(num, streamNum, idx int) (raw.Object, error) {
	objs, ok := l.objstm[streamNum]
	if !ok {
		var err error
		objs, err = l.unpackObjectStream(streamNum)
		if err != nil {
			return nil, err
		}
		l.objstm[streamNum] = objs
	}
	if obj, ok := objs[num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %d not found in object stream %d (index %d)", num, streamNum, idx)
}

func (l *loader) unpackObjectStream(streamNum int) (map[int]raw.Object, error) {
	container, err := l.load(streamNum)
	if err != nil {
		return nil, err
	}
	st, ok := container.(*raw.Stream)
	if !ok {
		return nil, fmt.Errorf("object %d is not an object stream", streamNum)
	}
	if typ, _ := st.Dict.Name("Type"); typ != "ObjStm" {
		return nil, fmt.Errorf("object %d is not an object stream", streamNum)
	}
	nObj, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")

	data := st.Data
	names, params := filters.ForStream(st.Dict, func(o raw.Object) raw.Object {
		if ref, ok := o.(raw.Ref); ok {
			if target, err := l.load(ref.R.Num); err == nil {
				return target
			}
		}
		return o
	})
	if len(names) > 0 {
		data, err = l.filters.Decode(data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode object stream %d: %w", streamNum, err)
		}
	}
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream First exceeds data")
	}

	// Header: N pairs of (object number, offset into body).
	hs := scanner.New(bytes.NewReader(data[:first]), l.cfg.ScannerLimits)
	var pairs []int
	for int64(len(pairs)/2) < nObj {
		tok, err := hs.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", streamNum, err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			continue
		}
		pairs = append(pairs, int(tok.Int))
	}

	body := data[first:]
	objs := make(map[int]raw.Object, nObj)
	for i := 0; i < int(nObj); i++ {
		objNum := pairs[2*i]
		off := pairs[2*i+1]
		if off < 0 || off > len(body) {
			return nil, errors.New("object stream offset out of range")
		}
		sc := scanner.New(bytes.NewReader(body[off:]), l.cfg.ScannerLimits)
		tr := raw.NewTokenReader(sc)
		obj, err := raw.ParseObject(tr)
		if err != nil {
			return nil, fmt.Errorf("object stream %d entry %d: %w", streamNum, objNum, err)
		}
		objs[objNum] = obj
	}
	return objs, nil
}

func headerVersion(r io.ReaderAt) string {
	buf := make([]byte, 16)
	n, _ := r.ReadAt(buf, 0)
	head := string(buf[:n])
	const marker = "%PDF-"
	if i := bytes.Index([]byte(head), []byte(marker)); i >= 0 && i+len(marker)+3 <= len(head) {
		return head[i+len(marker) : i+len(marker)+3]
	}
	return "1.7"
}

// ensureRoot makes the trailer point at a catalog. Repaired files can
// come back without one; scan the loaded objects in that case.
func ensureRoot(doc *raw.Document) error {
	if rootObj, ok := doc.Trailer.Get("Root"); ok {
		if _, ok := doc.ResolveDict(rootObj); ok {
			return nil
		}
	}
	for ref, obj := range doc.Objects {
		if dict, ok := obj.(*raw.Dict); ok {
			if typ, _ := dict.Name("Type"); typ == "Catalog" {
				doc.Trailer.Set("Root", raw.NewRef(ref.Num, ref.Gen))
				return nil
			}
		}
	}
	return errors.New("document has no catalog")
}
