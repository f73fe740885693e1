package document

import (
	"errors"

	"github.com/despread/despread/geometry"
	"github.com/despread/despread/raw"
)

// Builder assembles an output document out of cropped copies of source
// pages. Source objects keep their numbers; everything the builder adds
// is appended above the highest existing number, and objects no longer
// reachable from the new catalog are dropped from the result.
type Builder struct {
	src   *Document
	crops []crop
}

type crop struct {
	page     *Page
	rect     geometry.Rect
	rotation int
}

func NewBuilder(src *Document) *Builder {
	return &Builder{src: src}
}

// AppendCrop schedules one output page: a copy of page showing only
// rect, which is given in the page's effective-box coordinate space
// with origin at the box's lower-left corner.
func (b *Builder) AppendCrop(page *Page, rect geometry.Rect, rotation int) {
	b.crops = append(b.crops, crop{page: page, rect: rect, rotation: rotation})
}

// Len reports how many output pages have been scheduled.
func (b *Builder) Len() int { return len(b.crops) }

// Build produces the output document. The page order is the order of
// AppendCrop calls.
func (b *Builder) Build() (*raw.Document, error) {
	if len(b.crops) == 0 {
		return nil, errors.New("no output pages")
	}

	objects := make(map[raw.ObjectRef]raw.Object, len(b.src.Raw.Objects)+len(b.crops)+2)
	for ref, obj := range b.src.Raw.Objects {
		objects[ref] = obj
	}

	next := b.src.Raw.MaxObjNum() + 1
	pagesRef := raw.ObjectRef{Num: next}
	next++

	kids := raw.NewArray()
	for _, c := range b.crops {
		dict := c.page.Dict.Clone()

		// The crop rectangle is measured from the effective box origin;
		// shift it back into the page's absolute user space.
		box := c.page.EffectiveBox()
		abs := raw.NewArray(
			raw.Real(box.X0+c.rect.X0),
			raw.Real(box.Y0+c.rect.Y0),
			raw.Real(box.X0+c.rect.X1),
			raw.Real(box.Y0+c.rect.Y1),
		)
		dict.Set("Type", raw.NameOf("Page"))
		dict.Set("MediaBox", abs)
		dict.Set("CropBox", abs)
		dict.Set("Rotate", raw.Int(int64(c.rotation)))
		dict.Set("Parent", raw.NewRef(pagesRef.Num, 0))
		// Inherited attributes no longer flow from the old tree.
		if _, ok := dict.Get("Resources"); !ok && c.page.Resources != nil {
			dict.Set("Resources", c.page.Resources)
		}

		pageRef := raw.ObjectRef{Num: next}
		next++
		objects[pageRef] = dict
		kids.Append(raw.NewRef(pageRef.Num, 0))
	}

	pages := raw.NewDict()
	pages.Set("Type", raw.NameOf("Pages"))
	pages.Set("Kids", kids)
	pages.Set("Count", raw.Int(int64(len(b.crops))))
	objects[pagesRef] = pages

	catalog := raw.NewDict()
	catalog.Set("Type", raw.NameOf("Catalog"))
	catalog.Set("Pages", raw.NewRef(pagesRef.Num, 0))
	if meta := b.sourceCatalogMetadata(); meta != nil {
		catalog.Set("Metadata", meta)
	}
	catalogRef := raw.ObjectRef{Num: next}
	next++
	objects[catalogRef] = catalog

	trailer := raw.NewDict()
	trailer.Set("Root", raw.NewRef(catalogRef.Num, 0))
	if b.src.InfoRef != nil {
		trailer.Set("Info", *b.src.InfoRef)
	}
	if b.src.IDArray != nil {
		trailer.Set("ID", b.src.IDArray)
	}

	out := &raw.Document{
		Objects: objects,
		Trailer: trailer,
		Version: b.src.Raw.Version,
	}
	sweep(out)
	trailer.Set("Size", raw.Int(int64(out.MaxObjNum()+1)))
	return out, nil
}

// sourceCatalogMetadata returns the source catalog's XMP metadata
// reference, if any, so the output keeps it alongside /Info.
func (b *Builder) sourceCatalogMetadata() raw.Object {
	rootObj, ok := b.src.Raw.Trailer.Get("Root")
	if !ok {
		return nil
	}
	catalog, ok := b.src.Raw.ResolveDict(rootObj)
	if !ok {
		return nil
	}
	if meta, ok := catalog.Get("Metadata"); ok {
		return meta
	}
	return nil
}

// sweep drops objects unreachable from the trailer. Cropped copies still
// reference their content streams and resources, so those survive; the
// old page tree and anything hanging only off it does not.
func sweep(doc *raw.Document) {
	reachable := make(map[int]bool)
	var stack []raw.Object
	for _, v := range doc.Trailer.KV {
		stack = append(stack, v)
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch o := obj.(type) {
		case raw.Ref:
			if reachable[o.R.Num] {
				continue
			}
			reachable[o.R.Num] = true
			target, ok := doc.Objects[o.R]
			if !ok {
				target, ok = doc.Objects[raw.ObjectRef{Num: o.R.Num}]
			}
			if ok {
				stack = append(stack, target)
			}
		case *raw.Dict:
			for _, v := range o.KV {
				stack = append(stack, v)
			}
		case *raw.Array:
			stack = append(stack, o.Items...)
		case *raw.Stream:
			stack = append(stack, o.Dict)
		}
	}
	for ref := range doc.Objects {
		if !reachable[ref.Num] {
			delete(doc.Objects, ref)
		}
	}
}
