package writer

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/despread/despread/raw"
)

func writeIndirect(out *countingWriter, ref raw.ObjectRef, obj raw.Object) error {
	fmt.Fprintf(out, "%d %d obj\n", ref.Num, ref.Gen)
	serializeObject(out, obj)
	out.WriteString("\nendobj\n")
	return out.err
}

func serializeObject(out *countingWriter, obj raw.Object) {
	switch o := obj.(type) {
	case raw.Name:
		writeName(out, o.Val)
	case raw.Number:
		if o.IsInt {
			out.WriteString(strconv.FormatInt(o.I, 10))
		} else {
			out.WriteString(formatReal(o.F))
		}
	case raw.Bool:
		if o.V {
			out.WriteString("true")
		} else {
			out.WriteString("false")
		}
	case raw.Null, nil:
		out.WriteString("null")
	case raw.String:
		writeString(out, o)
	case raw.Ref:
		fmt.Fprintf(out, "%d %d R", o.R.Num, o.R.Gen)
	case *raw.Array:
		out.WriteByte('[')
		for i, item := range o.Items {
			if i > 0 {
				out.WriteByte(' ')
			}
			serializeObject(out, item)
		}
		out.WriteByte(']')
	case *raw.Dict:
		writeDict(out, o)
	case *raw.Stream:
		// The stored payload is authoritative; keep Length in lockstep.
		dict := o.Dict.Clone()
		dict.Set("Length", raw.Int(int64(len(o.Data))))
		writeDict(out, dict)
		out.WriteString("\nstream\n")
		out.Write(o.Data)
		out.WriteString("\nendstream")
	default:
		out.WriteString("null")
	}
}

func writeDict(out *countingWriter, d *raw.Dict) {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out.WriteString("<<")
	for _, k := range keys {
		writeName(out, k)
		out.WriteByte(' ')
		serializeObject(out, d.KV[k])
	}
	out.WriteString(">>")
}

// writeName emits a name with #xx escapes for delimiters, whitespace and
// non-printable bytes.
func writeName(out *countingWriter, name string) {
	out.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || isDelimiter(c) || c == '#' {
			fmt.Fprintf(out, "#%02X", c)
		} else {
			out.WriteByte(c)
		}
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// writeString picks the representation: literal syntax when the payload
// is mostly printable, hex otherwise. Strings parsed from hex stay hex.
func writeString(out *countingWriter, s raw.String) {
	if s.Hex || hasBinary(s.Bytes) {
		out.WriteByte('<')
		const hexDigits = "0123456789ABCDEF"
		for _, b := range s.Bytes {
			out.WriteByte(hexDigits[b>>4])
			out.WriteByte(hexDigits[b&0xf])
		}
		out.WriteByte('>')
		return
	}
	out.WriteByte('(')
	for _, b := range s.Bytes {
		switch b {
		case '(', ')', '\\':
			out.WriteByte('\\')
			out.WriteByte(b)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		default:
			out.WriteByte(b)
		}
	}
	out.WriteByte(')')
}

func hasBinary(b []byte) bool {
	for _, c := range b {
		if (c < 0x20 && c != '\n' && c != '\r' && c != '\t') || c >= 0x7f {
			return true
		}
	}
	return false
}

// formatReal renders a real without exponent notation, which PDF does
// not allow.
func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
