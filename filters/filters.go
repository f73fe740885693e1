// Package filters decodes PDF stream filters. Only the filters a page
// splitter must look inside of are implemented: the splitter passes page
// content through untouched, but cross-reference and object streams have
// to be decoded to locate objects at all.
package filters

import (
	"bytes"
	"compress/zlib"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/despread/despread/raw"
)

type Decoder interface {
	Name() string
	Decode(input []byte, params *raw.Dict) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewDefault returns a pipeline with every decoder this package implements.
func NewDefault(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
	}, limits)
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode applies the named filter chain in order.
func (p *Pipeline) Decode(input []byte, filterNames []string, params []*raw.Dict) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, errors.New("unknown filter: " + name)
		}
		var param *raw.Dict
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// ForStream reads the Filter and DecodeParms entries of a stream dict.
// Single names and arrays are both accepted.
func ForStream(dict *raw.Dict, resolve func(raw.Object) raw.Object) ([]string, []*raw.Dict) {
	if resolve == nil {
		resolve = func(o raw.Object) raw.Object { return o }
	}
	fObj, ok := dict.Get("Filter")
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := resolve(fObj).(type) {
	case raw.Name:
		names = []string{v.Val}
	case *raw.Array:
		for _, it := range v.Items {
			if n, ok := resolve(it).(raw.Name); ok {
				names = append(names, n.Val)
			}
		}
	}
	var params []*raw.Dict
	if dp, ok := dict.Get("DecodeParms"); ok {
		switch p := resolve(dp).(type) {
		case *raw.Dict:
			params = append(params, p)
		case *raw.Array:
			for _, it := range p.Items {
				d, _ := resolve(it).(*raw.Dict)
				params = append(params, d) // nil keeps positions aligned
			}
		}
	}
	return names, params
}

type flateDecoder struct{}

func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(in []byte, params *raw.Dict) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// applyPredictor reverses the Predictor pre-filtering declared in
// DecodeParms. Cross-reference streams almost always use PNG Up (12).
func applyPredictor(data []byte, params *raw.Dict) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	pred, ok := params.Int("Predictor")
	if !ok || pred <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := params.Int("Colors"); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := params.Int("BitsPerComponent"); ok {
		bpc = v
	}
	columns := int64(1)
	if v, ok := params.Int("Columns"); ok {
		columns = v
	}
	bpp := int((colors*bpc + 7) / 8) // bytes per pixel
	rowLen := int((colors*bpc*columns + 7) / 8)
	if rowLen <= 0 || bpp <= 0 {
		return nil, errors.New("invalid predictor parameters")
	}

	if pred == 2 {
		if bpc != 8 {
			return nil, errors.New("TIFF predictor requires 8 bits per component")
		}
		for r := 0; r+rowLen <= len(data); r += rowLen {
			row := data[r : r+rowLen]
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		}
		return data, nil
	}

	// PNG predictors: each row is prefixed with a filter-type byte.
	if (pred < 10) || (pred > 15) {
		return nil, fmt.Errorf("unsupported predictor %d", pred)
	}
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, errors.New("predictor data not a whole number of rows")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		row := append([]byte(nil), data[r*stride+1:(r+1)*stride]...)
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := range row {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := range row {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range row {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prev[i-bpp]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("unknown PNG filter type %d", ft)
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(in []byte, params *raw.Dict) ([]byte, error) {
	trimmed := in
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	compact := make([]byte, 0, len(trimmed))
	for _, c := range trimmed {
		if isHexDigit(c) {
			compact = append(compact, c)
		}
	}
	if len(compact)%2 == 1 {
		compact = append(compact, '0') // odd length pads with 0 per spec
	}
	result := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(result, compact)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(in []byte, params *raw.Dict) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(in []byte, params *raw.Dict) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		l := in[i]
		i++
		if l == 128 { // EOD
			break
		}
		if l < 128 {
			n := int(l) + 1
			if i+n > len(in) {
				return nil, errors.New("run-length literal overruns data")
			}
			out.Write(in[i : i+n])
			i += n
			continue
		}
		if i >= len(in) {
			return nil, errors.New("run-length repeat overruns data")
		}
		n := 257 - int(l)
		out.Write(bytes.Repeat(in[i:i+1], n))
		i++
	}
	return out.Bytes(), nil
}
