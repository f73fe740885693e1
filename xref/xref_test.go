package xref

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"testing"
)

// fileBuilder assembles PDF fixture bytes while tracking offsets.
type fileBuilder struct {
	buf bytes.Buffer
}

func (b *fileBuilder) add(s string) int64 {
	off := int64(b.buf.Len())
	b.buf.WriteString(s)
	return off
}

func (b *fileBuilder) reader() (*bytes.Reader, int64) {
	return bytes.NewReader(b.buf.Bytes()), int64(b.buf.Len())
}

func TestResolve_ClassicTable(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	off2 := b.add("2 0 obj << /Type /Pages /Kids [] /Count 0 >> endobj\n")
	xrefOff := b.add(fmt.Sprintf(
		"xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2))
	b.add("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))

	r, size := b.reader()
	table, err := Resolve(r, size)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	e, ok := table.Lookup(1)
	if !ok || e.Kind != InFile || e.Offset != off1 {
		t.Fatalf("object 1 entry = %+v, %v (want offset %d)", e, ok, off1)
	}
	e, ok = table.Lookup(2)
	if !ok || e.Offset != off2 {
		t.Fatalf("object 2 entry = %+v, %v", e, ok)
	}
	if _, ok := table.Lookup(0); ok {
		e, _ = table.Lookup(0)
		if e.Kind != Free {
			t.Fatalf("object 0 should be free, got %+v", e)
		}
	}
	if size, _ := table.Trailer().Int("Size"); size != 3 {
		t.Fatalf("trailer Size = %d", size)
	}
	if got := table.Objects(); len(got) != 2 {
		t.Fatalf("objects = %v", got)
	}
}

func TestResolve_IncrementalUpdateNewestWins(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	off2old := b.add("2 0 obj << /Type /Pages /Kids [] /Count 0 >> endobj\n")
	xref1 := b.add(fmt.Sprintf(
		"xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2old))
	b.add("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xref1))

	// Second revision rewrites object 2.
	off2new := b.add("2 0 obj << /Type /Pages /Kids [] /Count 1 >> endobj\n")
	xref2 := b.add(fmt.Sprintf("xref\n2 1\n%010d 00000 n \n", off2new))
	b.add(fmt.Sprintf("trailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\n", xref1))
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xref2))

	r, size := b.reader()
	table, err := Resolve(r, size)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(2)
	if !ok || e.Offset != off2new {
		t.Fatalf("object 2 offset = %d, want %d (newest revision)", e.Offset, off2new)
	}
	e, ok = table.Lookup(1)
	if !ok || e.Offset != off1 {
		t.Fatalf("object 1 lost across Prev chain: %+v, %v", e, ok)
	}
}

func TestResolve_XRefStream(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.5\n")
	off1 := b.add("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	off2 := b.add("2 0 obj << /Type /Pages /Kids [] /Count 0 >> endobj\n")

	// W [1 2 1]: type byte, two-byte offset, one-byte gen/index.
	var data bytes.Buffer
	write := func(typ byte, field int64, third byte) {
		data.WriteByte(typ)
		data.WriteByte(byte(field >> 8))
		data.WriteByte(byte(field))
		data.WriteByte(third)
	}
	write(0, 0, 255) // object 0: free
	write(1, off1, 0)
	write(1, off2, 0)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write(data.Bytes())
	zw.Close()

	// The stream object's own entry is supplied by a second section in
	// the same stream via Index; keep it simple and let the table not
	// know about object 3, which Resolve never needs to load here.
	xrefOff := int64(b.buf.Len())
	b.add(fmt.Sprintf("3 0 obj\n<< /Type /XRef /Size 3 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", compressed.Len()))
	b.add(compressed.String())
	b.add("\nendstream\nendobj\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))

	r, size := b.reader()
	table, err := Resolve(r, size)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(1)
	if !ok || e.Kind != InFile || e.Offset != off1 {
		t.Fatalf("object 1 entry = %+v, %v", e, ok)
	}
	e, ok = table.Lookup(2)
	if !ok || e.Offset != off2 {
		t.Fatalf("object 2 entry = %+v, %v", e, ok)
	}
	if root, ok := table.Trailer().Get("Root"); !ok {
		t.Fatalf("trailer Root missing: %v", root)
	}
}

func TestResolve_XRefStreamObjectStreamEntries(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.5\n")
	off4 := b.add("4 0 obj << >> endobj\n")

	// Objects 1 and 2 live in object stream 4 at indices 0 and 1.
	var data bytes.Buffer
	write := func(typ byte, field int64, third byte) {
		data.WriteByte(typ)
		data.WriteByte(byte(field >> 8))
		data.WriteByte(byte(field))
		data.WriteByte(third)
	}
	write(2, 4, 0)
	write(2, 4, 1)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write(data.Bytes())
	zw.Close()

	xrefOff := int64(b.buf.Len())
	b.add(fmt.Sprintf("5 0 obj\n<< /Type /XRef /Size 3 /Index [1 2] /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", compressed.Len()))
	b.add(compressed.String())
	b.add("\nendstream\nendobj\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))
	_ = off4

	r, size := b.reader()
	table, err := Resolve(r, size)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(1)
	if !ok || e.Kind != InObjectStream || e.StreamNum != 4 || e.StreamIdx != 0 {
		t.Fatalf("object 1 entry = %+v, %v", e, ok)
	}
	e, ok = table.Lookup(2)
	if !ok || e.Kind != InObjectStream || e.StreamIdx != 1 {
		t.Fatalf("object 2 entry = %+v, %v", e, ok)
	}
}

func TestResolve_RepairFallback(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	b.add("2 0 obj << /Type /Pages /Kids [] /Count 0 >> endobj\n")
	// Rewrite of object 2: the repair scan must keep the later offset.
	off2 := b.add("2 0 obj << /Type /Pages /Kids [] /Count 5 >> endobj\n")
	b.add("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	// startxref points into the void.
	b.add("startxref\n123456789\n%%EOF\n")

	r, size := b.reader()
	table, err := Resolve(r, size)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(1)
	if !ok || e.Offset != off1 {
		t.Fatalf("object 1 entry = %+v, %v", e, ok)
	}
	e, ok = table.Lookup(2)
	if !ok || e.Offset != off2 {
		t.Fatalf("object 2 offset = %d, want later definition %d", e.Offset, off2)
	}
	if _, ok := table.Trailer().Get("Root"); !ok {
		t.Fatalf("repair lost the trailer")
	}
}

func TestResolve_NoStartXRefRepairs(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog >> endobj\n")

	r, size := b.reader()
	table, err := Resolve(r, size)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e, ok := table.Lookup(1)
	if !ok || e.Offset != off1 {
		t.Fatalf("object 1 entry = %+v, %v", e, ok)
	}
	if _, ok := table.Trailer().Int("Size"); !ok {
		t.Fatalf("synthesized trailer missing Size")
	}
}
