package document

import (
	"testing"

	"github.com/despread/despread/geometry"
	"github.com/despread/despread/raw"
)

// treeFixture builds a two-level page tree: the root carries MediaBox
// and Resources, one leaf overrides Rotate, the other overrides CropBox.
func treeFixture() *raw.Document {
	catalog := raw.NewDict()
	catalog.Set("Type", raw.NameOf("Catalog"))
	catalog.Set("Pages", raw.NewRef(2, 0))

	resources := raw.NewDict()
	resources.Set("Font", raw.NewDict())

	pages := raw.NewDict()
	pages.Set("Type", raw.NameOf("Pages"))
	pages.Set("Kids", raw.NewArray(raw.NewRef(3, 0), raw.NewRef(4, 0)))
	pages.Set("Count", raw.Int(2))
	pages.Set("MediaBox", raw.NewArray(raw.Int(0), raw.Int(0), raw.Int(600), raw.Int(800)))
	pages.Set("Resources", raw.NewRef(10, 0))

	page1 := raw.NewDict()
	page1.Set("Type", raw.NameOf("Page"))
	page1.Set("Parent", raw.NewRef(2, 0))
	page1.Set("Rotate", raw.Int(90))

	page2 := raw.NewDict()
	page2.Set("Type", raw.NameOf("Page"))
	page2.Set("Parent", raw.NewRef(2, 0))
	page2.Set("CropBox", raw.NewArray(raw.Int(10), raw.Int(10), raw.Int(590), raw.Int(790)))

	info := raw.NewDict()
	info.Set("Title", raw.String{Bytes: []byte("spreads")})

	trailer := raw.NewDict()
	trailer.Set("Root", raw.NewRef(1, 0))
	trailer.Set("Info", raw.NewRef(9, 0))
	trailer.Set("Size", raw.Int(11))

	return &raw.Document{
		Objects: map[raw.ObjectRef]raw.Object{
			{Num: 1}:  catalog,
			{Num: 2}:  pages,
			{Num: 3}:  page1,
			{Num: 4}:  page2,
			{Num: 9}:  info,
			{Num: 10}: resources,
		},
		Trailer: trailer,
		Version: "1.4",
	}
}

func TestFromRaw_InheritanceAndOrder(t *testing.T) {
	doc, err := FromRaw(treeFixture())
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d", len(doc.Pages))
	}

	p1 := doc.Pages[0]
	if p1.Index != 0 || p1.Rotate != 90 {
		t.Fatalf("page 1 = %+v", p1)
	}
	if p1.MediaBox != (geometry.Rect{X0: 0, Y0: 0, X1: 600, Y1: 800}) {
		t.Fatalf("page 1 inherited mediabox = %v", p1.MediaBox)
	}
	if p1.HasCrop {
		t.Fatalf("page 1 has no crop box")
	}
	if p1.Resources == nil {
		t.Fatalf("page 1 lost inherited resources")
	}

	p2 := doc.Pages[1]
	if p2.Rotate != 0 {
		t.Fatalf("page 2 rotate = %d", p2.Rotate)
	}
	if !p2.HasCrop || p2.CropBox != (geometry.Rect{X0: 10, Y0: 10, X1: 590, Y1: 790}) {
		t.Fatalf("page 2 crop box = %v (%v)", p2.CropBox, p2.HasCrop)
	}

	if doc.InfoRef == nil || doc.InfoRef.R.Num != 9 {
		t.Fatalf("info ref = %v", doc.InfoRef)
	}
}

func TestPage_Descriptor(t *testing.T) {
	doc, err := FromRaw(treeFixture())
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}

	d := doc.Pages[0].Descriptor()
	if d.Width != 600 || d.Height != 800 || d.Rotation != 90 {
		t.Fatalf("descriptor = %+v", d)
	}

	// The crop box wins over the media box when present.
	d = doc.Pages[1].Descriptor()
	if d.Width != 580 || d.Height != 780 || d.Rotation != 0 {
		t.Fatalf("descriptor = %+v", d)
	}
}

func TestFromRaw_CycleDetected(t *testing.T) {
	rawDoc := treeFixture()
	// Point a leaf back at the root node.
	pages := rawDoc.Objects[raw.ObjectRef{Num: 2}].(*raw.Dict)
	pages.Set("Kids", raw.NewArray(raw.NewRef(2, 0)))
	if _, err := FromRaw(rawDoc); err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestFromRaw_NoPages(t *testing.T) {
	rawDoc := treeFixture()
	pages := rawDoc.Objects[raw.ObjectRef{Num: 2}].(*raw.Dict)
	pages.Set("Kids", raw.NewArray())
	if _, err := FromRaw(rawDoc); err == nil {
		t.Fatalf("expected error for empty tree")
	}
}

func TestBuilder_CropsAndReparents(t *testing.T) {
	doc, err := FromRaw(treeFixture())
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}

	b := NewBuilder(doc)
	b.AppendCrop(doc.Pages[0], geometry.Rect{X0: 0, Y0: 0, X1: 600, Y1: 400}, 90)
	b.AppendCrop(doc.Pages[0], geometry.Rect{X0: 0, Y0: 400, X1: 600, Y1: 800}, 90)
	out, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rootObj, _ := out.Trailer.Get("Root")
	catalog, ok := out.ResolveDict(rootObj)
	if !ok {
		t.Fatalf("output catalog missing")
	}
	pages, ok := out.ResolveDict(mustGet(t, catalog, "Pages"))
	if !ok {
		t.Fatalf("output pages missing")
	}
	if count, _ := pages.Int("Count"); count != 2 {
		t.Fatalf("count = %d", count)
	}
	kids, _ := out.ResolveArray(mustGet(t, pages, "Kids"))
	if kids.Len() != 2 {
		t.Fatalf("kids = %d", kids.Len())
	}

	first, ok := out.ResolveDict(kids.Items[0])
	if !ok {
		t.Fatalf("first output page missing")
	}
	mb, _ := out.ResolveArray(mustGet(t, first, "MediaBox"))
	vals := make([]float64, 4)
	for i := range vals {
		vals[i] = out.Resolve(mb.Items[i]).(raw.Number).Float()
	}
	if vals[0] != 0 || vals[1] != 0 || vals[2] != 600 || vals[3] != 400 {
		t.Fatalf("first mediabox = %v", vals)
	}
	cb, _ := out.ResolveArray(mustGet(t, first, "CropBox"))
	if cb.Len() != 4 {
		t.Fatalf("crop box missing")
	}
	if rot, _ := first.Int("Rotate"); rot != 90 {
		t.Fatalf("rotate = %d", rot)
	}
	if _, ok := first.Get("Resources"); !ok {
		t.Fatalf("inherited resources not materialized")
	}
	parent, ok := mustGet(t, first, "Parent").(raw.Ref)
	if !ok {
		t.Fatalf("parent not a ref")
	}
	if pagesRef, ok := mustGet(t, catalog, "Pages").(raw.Ref); !ok || parent.R != pagesRef.R {
		t.Fatalf("page not reparented: %v vs %v", parent, pagesRef)
	}

	// Info metadata carries over.
	infoObj, ok := out.Trailer.Get("Info")
	if !ok {
		t.Fatalf("info dropped")
	}
	info, ok := out.ResolveDict(infoObj)
	if !ok {
		t.Fatalf("info unreachable after sweep")
	}
	if _, ok := info.Get("Title"); !ok {
		t.Fatalf("info title lost")
	}
}

func TestBuilder_CropTranslatedByBoxOrigin(t *testing.T) {
	doc, err := FromRaw(treeFixture())
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}

	// Page 2's crop box starts at (10, 10); a crop rect at (0, 0) in box
	// coordinates lands at (10, 10) in user space.
	b := NewBuilder(doc)
	b.AppendCrop(doc.Pages[1], geometry.Rect{X0: 0, Y0: 0, X1: 290, Y1: 780}, 0)
	out, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	page := findSinglePage(t, out)
	mb, _ := out.ResolveArray(mustGet(t, page, "MediaBox"))
	vals := make([]float64, 4)
	for i := range vals {
		vals[i] = out.Resolve(mb.Items[i]).(raw.Number).Float()
	}
	if vals[0] != 10 || vals[1] != 10 || vals[2] != 300 || vals[3] != 790 {
		t.Fatalf("mediabox = %v", vals)
	}
}

func TestBuilder_SweepDropsOldTree(t *testing.T) {
	doc, err := FromRaw(treeFixture())
	if err != nil {
		t.Fatalf("from raw: %v", err)
	}

	b := NewBuilder(doc)
	b.AppendCrop(doc.Pages[0], geometry.Rect{X1: 300, Y1: 800}, 0)
	out, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// The old catalog (1) and pages node (2) are unreachable from the
	// new catalog; the shared resources (10) stay referenced.
	if _, ok := out.Objects[raw.ObjectRef{Num: 1}]; ok {
		t.Fatalf("old catalog survived the sweep")
	}
	if _, ok := out.Objects[raw.ObjectRef{Num: 2}]; ok {
		t.Fatalf("old pages node survived the sweep")
	}
	if _, ok := out.Objects[raw.ObjectRef{Num: 10}]; !ok {
		t.Fatalf("shared resources swept away")
	}
	if size, _ := out.Trailer.Int("Size"); size != int64(out.MaxObjNum()+1) {
		t.Fatalf("trailer Size = %d, max obj = %d", size, out.MaxObjNum())
	}
}

func findSinglePage(t *testing.T, doc *raw.Document) *raw.Dict {
	t.Helper()
	rootObj, _ := doc.Trailer.Get("Root")
	catalog, _ := doc.ResolveDict(rootObj)
	pages, _ := doc.ResolveDict(mustGet(t, catalog, "Pages"))
	kids, _ := doc.ResolveArray(mustGet(t, pages, "Kids"))
	if kids == nil || kids.Len() != 1 {
		t.Fatalf("expected one output page")
	}
	page, ok := doc.ResolveDict(kids.Items[0])
	if !ok {
		t.Fatalf("page missing")
	}
	return page
}

func mustGet(t *testing.T, d *raw.Dict, key string) raw.Object {
	t.Helper()
	v, ok := d.Get(key)
	if !ok {
		t.Fatalf("missing key %s", key)
	}
	return v
}
