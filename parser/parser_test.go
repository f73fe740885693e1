package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/despread/despread/raw"
)

type fileBuilder struct {
	buf bytes.Buffer
}

func (b *fileBuilder) add(s string) int64 {
	off := int64(b.buf.Len())
	b.buf.WriteString(s)
	return off
}

func (b *fileBuilder) len() int64 { return int64(b.buf.Len()) }

func (b *fileBuilder) reader() (*bytes.Reader, int64) {
	return bytes.NewReader(b.buf.Bytes()), int64(b.buf.Len())
}

// classicFixture builds a one-page file with a content stream whose
// /Length is indirect.
func classicFixture() (*bytes.Reader, int64) {
	content := "BT /F1 12 Tf (hi) Tj ET"
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	off2 := b.add("2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj\n")
	off3 := b.add("3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 600 800] /Contents 4 0 R >> endobj\n")
	off4 := b.add(fmt.Sprintf("4 0 obj << /Length 5 0 R >> stream\n%s\nendstream endobj\n", content))
	off5 := b.add(fmt.Sprintf("5 0 obj %d endobj\n", len(content)))
	xrefOff := b.add(fmt.Sprintf(
		"xref\n0 6\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n",
		off1, off2, off3, off4, off5))
	b.add("trailer\n<< /Size 6 /Root 1 0 R >>\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))
	return b.reader()
}

func TestParse_ClassicFile(t *testing.T) {
	r, size := classicFixture()
	doc, err := Parse(context.Background(), r, size, Config{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Version != "1.4" {
		t.Fatalf("version = %q", doc.Version)
	}

	rootObj, ok := doc.Trailer.Get("Root")
	if !ok {
		t.Fatalf("no Root")
	}
	catalog, ok := doc.ResolveDict(rootObj)
	if !ok {
		t.Fatalf("catalog not a dict")
	}
	pages, ok := doc.ResolveDict(mustGet(t, catalog, "Pages"))
	if !ok {
		t.Fatalf("pages not a dict")
	}
	kids, ok := doc.ResolveArray(mustGet(t, pages, "Kids"))
	if !ok || kids.Len() != 1 {
		t.Fatalf("kids = %v", kids)
	}
	page, ok := doc.ResolveDict(kids.Items[0])
	if !ok {
		t.Fatalf("page not a dict")
	}

	// The indirect /Length must have been resolved to slice the payload.
	stream, ok := doc.Resolve(mustGet(t, page, "Contents")).(*raw.Stream)
	if !ok {
		t.Fatalf("contents not a stream")
	}
	if string(stream.Data) != "BT /F1 12 Tf (hi) Tj ET" {
		t.Fatalf("stream data = %q", stream.Data)
	}
}

func TestParse_ObjectStreams(t *testing.T) {
	// Objects 1-3 live compressed inside object stream 4; the xref is a
	// stream itself (object 5).
	bodies := []struct {
		num int
		src string
	}{
		{1, "<< /Type /Catalog /Pages 2 0 R >>"},
		{2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>"},
		{3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>"},
	}
	var header, body bytes.Buffer
	for _, o := range bodies {
		fmt.Fprintf(&header, "%d %d ", o.num, body.Len())
		body.WriteString(o.src)
		body.WriteString(" ")
	}
	objstm := append(header.Bytes(), body.Bytes()...)
	var objstmZ bytes.Buffer
	zw := zlib.NewWriter(&objstmZ)
	zw.Write(objstm)
	zw.Close()

	var b fileBuilder
	b.add("%PDF-1.5\n")
	off4 := b.add(fmt.Sprintf(
		"4 0 obj << /Type /ObjStm /N 3 /First %d /Filter /FlateDecode /Length %d >> stream\n",
		header.Len(), objstmZ.Len()))
	b.add(objstmZ.String())
	b.add("\nendstream endobj\n")

	xrefOff := b.len()
	var data bytes.Buffer
	row := func(typ byte, field int64, third byte) {
		data.WriteByte(typ)
		data.WriteByte(byte(field >> 8))
		data.WriteByte(byte(field))
		data.WriteByte(third)
	}
	row(0, 0, 255)
	row(2, 4, 0)
	row(2, 4, 1)
	row(2, 4, 2)
	row(1, off4, 0)
	row(1, xrefOff, 0)
	var xrefZ bytes.Buffer
	zw = zlib.NewWriter(&xrefZ)
	zw.Write(data.Bytes())
	zw.Close()

	b.add(fmt.Sprintf(
		"5 0 obj << /Type /XRef /Size 6 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >> stream\n",
		xrefZ.Len()))
	b.add(xrefZ.String())
	b.add("\nendstream endobj\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))

	r, size := b.reader()
	doc, err := Parse(context.Background(), r, size, Config{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	catalog, ok := doc.ResolveDict(raw.NewRef(1, 0))
	if !ok {
		t.Fatalf("catalog missing")
	}
	if typ, _ := catalog.Name("Type"); typ != "Catalog" {
		t.Fatalf("catalog type = %q", typ)
	}
	page, ok := doc.ResolveDict(raw.NewRef(3, 0))
	if !ok {
		t.Fatalf("page missing")
	}
	mb, ok := doc.ResolveArray(mustGet(t, page, "MediaBox"))
	if !ok || mb.Len() != 4 {
		t.Fatalf("mediabox = %v", mb)
	}
}

func TestParse_EncryptedRejected(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog >> endobj\n")
	off2 := b.add("2 0 obj << /Filter /Standard /V 2 >> endobj\n")
	xrefOff := b.add(fmt.Sprintf(
		"xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2))
	b.add("trailer\n<< /Size 3 /Root 1 0 R /Encrypt 2 0 R >>\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))

	r, size := b.reader()
	_, err := Parse(context.Background(), r, size, Config{})
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("error = %v, want ErrEncrypted", err)
	}
}

func TestParse_CanceledContext(t *testing.T) {
	r, size := classicFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Parse(ctx, r, size, Config{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestParse_MissingRootRecovered(t *testing.T) {
	var b fileBuilder
	b.add("%PDF-1.4\n")
	off1 := b.add("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	off2 := b.add("2 0 obj << /Type /Pages /Kids [] /Count 0 >> endobj\n")
	xrefOff := b.add(fmt.Sprintf(
		"xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2))
	b.add("trailer\n<< /Size 3 >>\n")
	b.add(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))

	r, size := b.reader()
	doc, err := Parse(context.Background(), r, size, Config{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rootObj, ok := doc.Trailer.Get("Root")
	if !ok {
		t.Fatalf("Root not recovered")
	}
	catalog, ok := doc.ResolveDict(rootObj)
	if !ok {
		t.Fatalf("recovered Root does not resolve")
	}
	if typ, _ := catalog.Name("Type"); typ != "Catalog" {
		t.Fatalf("recovered type = %q", typ)
	}
}

func mustGet(t *testing.T, d *raw.Dict, key string) raw.Object {
	t.Helper()
	v, ok := d.Get(key)
	if !ok {
		t.Fatalf("missing key %s", key)
	}
	return v
}
