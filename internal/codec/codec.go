// Package codec stores a resolved definition tree in a compact binary form.
//
// A blob starts with the magic "DTB1" and a version number, followed by the
// number of top-level fields and the fields themselves. Each field is a flag
// byte, its type (when present), its key, its value payload and, when
// flagged, its children. Strings are written once inline and referenced by
// id afterwards.
package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/value"
)

const (
	Magic   = "DTB1"
	Version = 1
)

var (
	ErrBadMagic           = errors.New("codec: bad magic")
	ErrUnsupportedVersion = errors.New("codec: unsupported version")
	ErrCorrupt            = errors.New("codec: corrupt data")
)

// Flag byte layout.
const (
	flagType     = 1 << 0
	flagChildren = 1 << 1
	tagShift     = 2
	tagMask      = 7 << tagShift
	flagNegative = 1 << 5
)

// Value tags.
const (
	tagNone byte = iota
	tagNull
	tagInt
	tagFloat
	tagString
	tagList
	tagPoint
	tagSource
)

// maxDepth bounds field nesting in both directions.
const maxDepth = 128

// Writer encodes fields. Strings seen before are written as ids.
type Writer struct {
	w       *bufio.Writer
	strings *dt.UniqueStrings
	err     error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), strings: dt.NewUniqueStrings()}
}

// Save writes roots with their effective subtrees: inherited children and
// values are flattened in, so the blob does not depend on based_on links.
func Save(w io.Writer, roots []*dt.Field) error {
	bw := NewWriter(w)
	bw.header()
	bw.uvarint(uint64(len(roots)))
	for _, r := range roots {
		if err := bw.WriteField(r); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveDT writes every root of d.
func SaveDT(w io.Writer, d *dt.DT) error {
	return Save(w, d.Roots())
}

// Marshal is Save into a byte slice.
func Marshal(roots []*dt.Field) ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, roots); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Writer) header() {
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(Magic)
	w.uvarint(Version)
}

// WriteField encodes f and its effective children.
func (w *Writer) WriteField(f *dt.Field) error {
	w.field(f, 0)
	return w.err
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

func (w *Writer) field(f *dt.Field, depth int) {
	if w.err != nil {
		return
	}
	if depth > maxDepth {
		w.err = fmt.Errorf("codec: %s nests deeper than %d", f.Path(), maxDepth)
		return
	}
	typ := f.Type()
	children := f.Children()
	v, _ := f.Literal()

	flags := valueFlags(v)
	if typ != "" {
		flags |= flagType
	}
	if len(children) > 0 {
		flags |= flagChildren
	}
	w.byte(flags)
	if typ != "" {
		w.string(typ)
	}
	w.string(f.Key())
	w.payload(v, flags)
	if len(children) > 0 {
		w.uvarint(uint64(len(children)))
		for _, c := range children {
			w.field(c, depth+1)
		}
	}
}

// valueFlags returns the tag bits and sign bit for v.
func valueFlags(v value.Value) byte {
	tag := tagNone
	var neg byte
	switch v.Kind() {
	case value.KindNull:
		tag = tagNull
	case value.KindInt:
		tag = tagInt
		if v.Int(0) < 0 {
			neg = flagNegative
		}
	case value.KindFloat:
		tag = tagFloat
	case value.KindString:
		tag = tagString
	case value.KindObject:
		switch o := v.Obj().(type) {
		case value.List:
			tag = tagList
			if dynamic(o) {
				tag = tagSource
			}
		case value.Point:
			tag = tagPoint
		case nil:
			tag = tagNull
		case value.Error:
			tag = tagNull
		default:
			tag = tagSource
		}
	}
	return tag<<tagShift | neg
}

func dynamic(l value.List) bool {
	for _, e := range l {
		switch o := e.Obj().(type) {
		case value.List:
			if dynamic(o) {
				return true
			}
		case *expr.Expr, *dt.Reference:
			return true
		}
	}
	return false
}

func (w *Writer) payload(v value.Value, flags byte) {
	switch (flags & tagMask) >> tagShift {
	case tagInt:
		i := v.Int(0)
		u := uint64(i)
		if i < 0 {
			u = uint64(-i)
		}
		w.uvarint(u)
	case tagFloat:
		w.float(v.Float(0))
	case tagString:
		w.string(v.Str(""))
	case tagList:
		l, _ := v.List()
		w.uvarint(uint64(len(l)))
		for _, e := range l {
			ef := valueFlags(e)
			w.byte(ef)
			w.payload(e, ef)
		}
	case tagPoint:
		p, _ := v.Point()
		w.float(p.X)
		w.float(p.Y)
	case tagSource:
		w.string(source(v))
	}
}

// source returns the literal text that parses back to v.
func source(v value.Value) string {
	switch o := v.Obj().(type) {
	case *expr.Expr:
		return o.Source()
	case *dt.Reference:
		return o.Path
	}
	return v.Literal()
}

func (w *Writer) byte(b byte) {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte(b)
}

func (w *Writer) uvarint(u uint64) {
	if w.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	_, w.err = w.w.Write(buf[:n])
}

func (w *Writer) float(f float64) {
	if w.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	_, w.err = w.w.Write(buf[:])
}

// string writes the id of s, or 0 and the inline bytes on first use.
func (w *Writer) string(s string) {
	if s == "" {
		w.uvarint(0)
		w.uvarint(0)
		return
	}
	if id, ok := w.strings.ID(s); ok {
		w.uvarint(uint64(id))
		return
	}
	w.strings.Add(s)
	w.uvarint(0)
	w.uvarint(uint64(len(s)))
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}

// Reader decodes fields written by Writer.
type Reader struct {
	r       *bufio.Reader
	strings *dt.UniqueStrings
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), strings: dt.NewUniqueStrings()}
}

// Load reads a blob written by Save.
func Load(r io.Reader) ([]*dt.Field, error) {
	br := NewReader(r)
	if err := br.header(); err != nil {
		return nil, err
	}
	n, err := br.uvarint()
	if err != nil {
		return nil, err
	}
	var roots []*dt.Field
	for i := uint64(0); i < n; i++ {
		f, err := br.ReadField()
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		roots = append(roots, f)
	}
	return roots, nil
}

// Unmarshal is Load from a byte slice.
func Unmarshal(data []byte) ([]*dt.Field, error) {
	return Load(bytes.NewReader(data))
}

// LoadDT reads a blob into d as a file called name and resolves d.
func LoadDT(r io.Reader, d *dt.DT, name string) error {
	roots, err := Load(r)
	if err != nil {
		return err
	}
	d.AddFile(name, roots)
	d.Resolve()
	return nil
}

func (r *Reader) header() error {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r.r, magic); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(magic) != Magic {
		return ErrBadMagic
	}
	v, err := r.uvarint()
	if err != nil {
		return err
	}
	if v != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return nil
}

// ReadField decodes one field and its children.
func (r *Reader) ReadField() (*dt.Field, error) {
	return r.field(0)
}

func (r *Reader) field(depth int) (*dt.Field, error) {
	if depth > maxDepth {
		return nil, ErrCorrupt
	}
	flags, err := r.r.ReadByte()
	if err != nil {
		return nil, eof(err)
	}
	var typ string
	if flags&flagType != 0 {
		if typ, err = r.string(); err != nil {
			return nil, err
		}
	}
	key, err := r.string()
	if err != nil {
		return nil, err
	}
	f := dt.NewField(typ, key)
	if err := r.value(f, flags); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if flags&flagChildren != 0 {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < n; i++ {
			c, err := r.field(depth + 1)
			if err != nil {
				return nil, err
			}
			f.AddChild(c)
		}
	}
	return f, nil
}

func (r *Reader) value(f *dt.Field, flags byte) error {
	if (flags&tagMask)>>tagShift == tagSource {
		src, err := r.string()
		if err != nil {
			return err
		}
		v, err := dt.ParseLiteral(src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		f.SetLiteral(src, v)
		return nil
	}
	v, err := r.payload(flags)
	if err != nil {
		return err
	}
	if !v.IsUnknown() {
		f.SetValue(v)
	}
	return nil
}

func (r *Reader) payload(flags byte) (value.Value, error) {
	switch (flags & tagMask) >> tagShift {
	case tagNone:
		return value.Unknown, nil
	case tagNull:
		return value.Null, nil
	case tagInt:
		u, err := r.uvarint()
		if err != nil {
			return value.Unknown, err
		}
		if flags&flagNegative != 0 {
			return value.FromInt(-int64(u)), nil
		}
		return value.FromInt(int64(u)), nil
	case tagFloat:
		f, err := r.float()
		return value.FromFloat(f), err
	case tagString:
		s, err := r.string()
		return value.FromString(s), err
	case tagList:
		n, err := r.uvarint()
		if err != nil {
			return value.Unknown, err
		}
		items := make([]value.Value, 0, min(n, 1024))
		for i := uint64(0); i < n; i++ {
			ef, err := r.r.ReadByte()
			if err != nil {
				return value.Unknown, eof(err)
			}
			e, err := r.payload(ef)
			if err != nil {
				return value.Unknown, err
			}
			items = append(items, e)
		}
		return value.NewList(items...), nil
	case tagPoint:
		x, err := r.float()
		if err != nil {
			return value.Unknown, err
		}
		y, err := r.float()
		return value.NewPoint(x, y), err
	case tagSource:
		s, err := r.string()
		if err != nil {
			return value.Unknown, err
		}
		v, err := dt.ParseLiteral(s)
		if err != nil {
			return value.Unknown, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return v, nil
	}
	return value.Unknown, ErrCorrupt
}

func (r *Reader) uvarint() (uint64, error) {
	u, err := binary.ReadUvarint(r.r)
	return u, eof(err)
}

func (r *Reader) float() (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, eof(err)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

func (r *Reader) string() (string, error) {
	id, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if id != 0 {
		if int(id) > r.strings.Len() {
			return "", fmt.Errorf("%w: string id %d", ErrCorrupt, id)
		}
		return r.strings.Get(uint32(id)), nil
	}
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > 1<<24 {
		return "", fmt.Errorf("%w: string of %d bytes", ErrCorrupt, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", eof(err)
	}
	s := string(buf)
	r.strings.Add(s)
	return s, nil
}

// eof turns a clean EOF in the middle of a field into ErrCorrupt.
func eof(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	return err
}
