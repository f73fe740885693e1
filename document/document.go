// Package document models a parsed PDF at page granularity: enough
// structure to read each page's geometry and to assemble a new document
// out of cropped copies of existing pages. Everything below this level
// (objects, filters, xref) is the raw/parser layer's concern; everything
// above (where to cut) is the geometry package's.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/despread/despread/geometry"
	"github.com/despread/despread/parser"
	"github.com/despread/despread/raw"
)

// Document is a parsed input file.
type Document struct {
	Raw   *raw.Document
	Pages []*Page
	// InfoRef points at the source /Info dictionary, if any, so output
	// documents can carry the metadata over by reference.
	InfoRef *raw.Ref
	IDArray *raw.Array
}

// Page is one input page with its inheritance-resolved attributes.
type Page struct {
	Index    int // 0-based position in the page tree
	Dict     *raw.Dict
	MediaBox geometry.Rect
	CropBox  geometry.Rect
	HasCrop  bool
	Rotate   int
	// Resources as resolved through the page tree; may be a Ref or a
	// Dict, and nil only for degenerate files.
	Resources raw.Object
}

// EffectiveBox is the region the page actually shows: the crop box when
// present, otherwise the media box.
func (p *Page) EffectiveBox() geometry.Rect {
	if p.HasCrop {
		return p.CropBox
	}
	return p.MediaBox
}

// Descriptor snapshots the page geometry for the split resolver.
func (p *Page) Descriptor() geometry.PageDescriptor {
	box := p.EffectiveBox()
	return geometry.PageDescriptor{
		Width:    box.Width(),
		Height:   box.Height(),
		Rotation: p.Rotate,
	}
}

// Load parses a document from r. size is the byte length of r.
func Load(ctx context.Context, r io.ReaderAt, size int64, cfg parser.Config) (*Document, error) {
	rawDoc, err := parser.Parse(ctx, r, size, cfg)
	if err != nil {
		return nil, err
	}
	return FromRaw(rawDoc)
}

// FromRaw builds the page list out of an already-parsed document.
func FromRaw(rawDoc *raw.Document) (*Document, error) {
	doc := &Document{Raw: rawDoc}

	if infoObj, ok := rawDoc.Trailer.Get("Info"); ok {
		if ref, ok := infoObj.(raw.Ref); ok {
			doc.InfoRef = &ref
		}
	}
	if idObj, ok := rawDoc.Trailer.Get("ID"); ok {
		if arr, ok := idObj.(*raw.Array); ok {
			doc.IDArray = arr
		}
	}

	rootObj, ok := rawDoc.Trailer.Get("Root")
	if !ok {
		return nil, errors.New("trailer has no Root")
	}
	catalog, ok := rawDoc.ResolveDict(rootObj)
	if !ok {
		return nil, errors.New("catalog is not a dictionary")
	}
	pagesObj, ok := catalog.Get("Pages")
	if !ok {
		return nil, errors.New("catalog has no page tree")
	}

	visited := make(map[raw.ObjectRef]bool)
	if err := doc.walkPageTree(pagesObj, inherited{}, visited); err != nil {
		return nil, err
	}
	if len(doc.Pages) == 0 {
		return nil, errors.New("document has no pages")
	}
	return doc, nil
}

// inherited carries the attributes a Pages node passes down to its kids.
type inherited struct {
	mediaBox  *geometry.Rect
	cropBox   *geometry.Rect
	rotate    *int
	resources raw.Object
}

func (d *Document) walkPageTree(node raw.Object, inh inherited, visited map[raw.ObjectRef]bool) error {
	if ref, ok := node.(raw.Ref); ok {
		if visited[ref.R] {
			return fmt.Errorf("page tree cycle through object %d", ref.R.Num)
		}
		visited[ref.R] = true
	}
	dict, ok := d.Raw.ResolveDict(node)
	if !ok {
		return errors.New("page tree node is not a dictionary")
	}

	if mb, ok := d.rectEntry(dict, "MediaBox"); ok {
		inh.mediaBox = &mb
	}
	if cb, ok := d.rectEntry(dict, "CropBox"); ok {
		inh.cropBox = &cb
	}
	if rotObj, ok := dict.Get("Rotate"); ok {
		if n, ok := d.Raw.Resolve(rotObj).(raw.Number); ok && n.IsInt {
			v := int(n.I)
			inh.rotate = &v
		}
	}
	if resObj, ok := dict.Get("Resources"); ok {
		inh.resources = resObj
	}

	typ, _ := dict.Name("Type")
	kidsObj, hasKids := dict.Get("Kids")
	if typ == "Page" || (typ == "" && !hasKids) {
		page := &Page{
			Index:     len(d.Pages),
			Dict:      dict,
			Rotate:    0,
			Resources: inh.resources,
		}
		if inh.mediaBox != nil {
			page.MediaBox = *inh.mediaBox
		} else {
			page.MediaBox = geometry.Rect{X0: 0, Y0: 0, X1: 612, Y1: 792} // Letter fallback
		}
		if inh.cropBox != nil {
			page.CropBox = *inh.cropBox
			page.HasCrop = true
		}
		if inh.rotate != nil {
			page.Rotate = *inh.rotate
		}
		d.Pages = append(d.Pages, page)
		return nil
	}

	if !hasKids {
		return errors.New("pages node missing Kids")
	}
	kids, ok := d.Raw.ResolveArray(kidsObj)
	if !ok {
		return errors.New("Kids is not an array")
	}
	for _, kid := range kids.Items {
		if err := d.walkPageTree(kid, inh, visited); err != nil {
			return err
		}
	}
	return nil
}

// rectEntry reads a [llx lly urx ury] entry, resolving indirection on
// the array and each number, and normalizes corner order.
func (d *Document) rectEntry(dict *raw.Dict, key string) (geometry.Rect, bool) {
	obj, ok := dict.Get(key)
	if !ok {
		return geometry.Rect{}, false
	}
	arr, ok := d.Raw.ResolveArray(obj)
	if !ok || arr.Len() < 4 {
		return geometry.Rect{}, false
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		n, ok := d.Raw.Resolve(arr.Items[i]).(raw.Number)
		if !ok {
			return geometry.Rect{}, false
		}
		v[i] = n.Float()
	}
	r := geometry.Rect{X0: v[0], Y0: v[1], X1: v[2], Y1: v[3]}
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r, true
}
