// Package writer serializes a raw.Document into a well-formed PDF file:
// header, body objects in ascending number order, a classic
// cross-reference table, and the trailer. Stream payloads are written
// exactly as stored, so objects passed through from a parsed file keep
// their original encoding.
package writer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/despread/despread/raw"
)

type Config struct {
	// Version overrides the header version; empty keeps the document's.
	Version string
}

// Write serializes doc to w.
func Write(ctx context.Context, doc *raw.Document, w io.Writer, cfg Config) error {
	if doc.Trailer == nil {
		return errors.New("document has no trailer")
	}
	if _, ok := doc.Trailer.Get("Root"); !ok {
		return errors.New("trailer has no Root")
	}

	version := cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}

	out := &countingWriter{w: bufio.NewWriter(w)}

	// The binary comment line keeps transfer tools from treating the
	// file as text.
	fmt.Fprintf(out, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)

	ordered := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Num < ordered[j].Num })

	offsets := make(map[int]entry, len(ordered))
	for _, ref := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		offsets[ref.Num] = entry{offset: out.n, gen: ref.Gen}
		if err := writeIndirect(out, ref, doc.Objects[ref]); err != nil {
			return fmt.Errorf("write object %d: %w", ref.Num, err)
		}
	}

	xrefOffset := out.n
	maxNum := 0
	if len(ordered) > 0 {
		maxNum = ordered[len(ordered)-1].Num
	}
	writeXRef(out, offsets, maxNum)

	trailer := doc.Trailer.Clone()
	trailer.Set("Size", raw.Int(int64(maxNum+1)))
	// Previous-revision pointers are meaningless in a rewritten file.
	trailer.Delete("Prev")
	trailer.Delete("XRefStm")
	out.WriteString("trailer\n")
	serializeObject(out, trailer)
	fmt.Fprintf(out, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	if out.err != nil {
		return out.err
	}
	return out.w.Flush()
}

type entry struct {
	offset int64
	gen    int
}

// writeXRef emits a classic table, one subsection per contiguous run of
// allocated numbers. Object 0 heads the free list as always.
func writeXRef(out *countingWriter, offsets map[int]entry, maxNum int) {
	out.WriteString("xref\n")

	type line struct {
		num  int
		text string
	}
	lines := []line{{0, "0000000000 65535 f \n"}}
	for num := 1; num <= maxNum; num++ {
		if e, ok := offsets[num]; ok {
			lines = append(lines, line{num, fmt.Sprintf("%010d %05d n \n", e.offset, e.gen)})
		}
	}

	for i := 0; i < len(lines); {
		j := i + 1
		for j < len(lines) && lines[j].num == lines[j-1].num+1 {
			j++
		}
		fmt.Fprintf(out, "%d %d\n", lines[i].num, j-i)
		for ; i < j; i++ {
			out.WriteString(lines[i].text)
		}
	}
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countingWriter) WriteString(s string) {
	if c.err != nil {
		return
	}
	n, err := c.w.WriteString(s)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) WriteByte(b byte) error {
	if c.err != nil {
		return c.err
	}
	if err := c.w.WriteByte(b); err != nil {
		c.err = err
		return err
	}
	c.n++
	return nil
}
