package document

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Handle exposes a live Document to macro code as the `doc` entry point. It
// is constructed per execution and carries no state of its own; freezing is
// a no-op because all mutation goes through the document's own locking and
// runs on the serialized mutation loop.
type Handle struct {
	doc *Document
}

// NewHandle wraps a document for macro access.
func NewHandle(doc *Document) *Handle {
	return &Handle{doc: doc}
}

var _ starlark.HasAttrs = (*Handle)(nil)

// String implements starlark.Value.
func (h *Handle) String() string { return fmt.Sprintf("<document %s>", h.doc.Name()) }

// Type implements starlark.Value.
func (h *Handle) Type() string { return "document" }

// Freeze implements starlark.Value.
func (h *Handle) Freeze() {}

// Truth implements starlark.Value.
func (h *Handle) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (h *Handle) Hash() (uint32, error) {
	return 0, errors.New("document is unhashable")
}

// AttrNames implements starlark.HasAttrs.
func (h *Handle) AttrNames() []string {
	return []string{"get_object", "name", "new_object", "objects", "recompute", "remove_object"}
}

// Attr implements starlark.HasAttrs.
func (h *Handle) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(h.doc.Name()), nil
	case "new_object":
		return starlark.NewBuiltin("new_object", docNewObject).BindReceiver(h), nil
	case "get_object":
		return starlark.NewBuiltin("get_object", docGetObject).BindReceiver(h), nil
	case "remove_object":
		return starlark.NewBuiltin("remove_object", docRemoveObject).BindReceiver(h), nil
	case "objects":
		return starlark.NewBuiltin("objects", docObjects).BindReceiver(h), nil
	case "recompute":
		return starlark.NewBuiltin("recompute", docRecompute).BindReceiver(h), nil
	}
	return nil, nil
}

func docNewObject(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	h := b.Receiver().(*Handle)
	var name, typ string
	var props *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name, "type?", &typ, "props?", &props); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = "Feature"
	}

	goProps := make(map[string]any)
	if props != nil {
		for _, item := range props.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("%s: property keys must be strings, got %s", b.Name(), item[0].Type())
			}
			v, err := FromStarlark(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: property %q: %w", b.Name(), key, err)
			}
			goProps[key] = v
		}
	}

	obj, err := h.doc.AddObject(name, typ, goProps)
	if err != nil {
		return nil, err
	}
	return &objectValue{obj: obj}, nil
}

func docGetObject(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	h := b.Receiver().(*Handle)
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	obj, err := h.doc.Object(name)
	if err != nil {
		return nil, err
	}
	return &objectValue{obj: obj}, nil
}

func docRemoveObject(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	h := b.Receiver().(*Handle)
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	if err := h.doc.RemoveObject(name); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func docObjects(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	h := b.Receiver().(*Handle)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	names := h.doc.Objects()
	elems := make([]starlark.Value, len(names))
	for i, n := range names {
		elems[i] = starlark.String(n)
	}
	return starlark.NewList(elems), nil
}

func docRecompute(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	h := b.Receiver().(*Handle)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.MakeInt(h.doc.Recompute()), nil
}

// objectValue exposes a model object to macro code.
type objectValue struct {
	obj *Object
}

var _ starlark.HasAttrs = (*objectValue)(nil)

func (o *objectValue) String() string {
	return fmt.Sprintf("<object %s:%s>", o.obj.Type(), o.obj.Name())
}
func (o *objectValue) Type() string          { return "object" }
func (o *objectValue) Freeze()               {}
func (o *objectValue) Truth() starlark.Bool  { return starlark.True }
func (o *objectValue) Hash() (uint32, error) { return 0, errors.New("object is unhashable") }

func (o *objectValue) AttrNames() []string {
	return []string{"get", "name", "props", "set", "type"}
}

func (o *objectValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(o.obj.Name()), nil
	case "type":
		return starlark.String(o.obj.Type()), nil
	case "get":
		return starlark.NewBuiltin("get", objGet).BindReceiver(o), nil
	case "set":
		return starlark.NewBuiltin("set", objSet).BindReceiver(o), nil
	case "props":
		return starlark.NewBuiltin("props", objProps).BindReceiver(o), nil
	}
	return nil, nil
}

func objGet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	o := b.Receiver().(*objectValue)
	var key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
		return nil, err
	}
	v, ok := o.obj.Property(key)
	if !ok {
		return fallback, nil
	}
	return ToStarlark(v)
}

func objSet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	o := b.Receiver().(*objectValue)
	var key string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "value", &value); err != nil {
		return nil, err
	}
	v, err := FromStarlark(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	o.obj.SetProperty(key, v)
	return starlark.None, nil
}

func objProps(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	o := b.Receiver().(*objectValue)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	props := o.obj.Properties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dict := starlark.NewDict(len(props))
	for _, k := range keys {
		v, err := ToStarlark(props[k])
		if err != nil {
			return nil, err
		}
		if err := dict.SetKey(starlark.String(k), v); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// ToStarlark converts a plain Go value (the JSON-decoded parameter types)
// into a Starlark value.
func ToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			sv, err := ToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, e := range val {
			sv, err := ToStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// FromStarlark converts a Starlark value back into a plain Go value.
func FromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer out of range: %s", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			e, err := FromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			e, err := FromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			e, err := FromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type())
	}
}

// GeometryModule returns the host geometry module bound into macro
// namespaces under "geometry".
func GeometryModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "geometry",
		Members: starlark.StringDict{
			"vector":   starlark.NewBuiltin("geometry.vector", geoVector),
			"distance": starlark.NewBuiltin("geometry.distance", geoDistance),
			"origin":   vectorStruct(0, 0, 0),
		},
	}
}

func vectorStruct(x, y, z float64) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"x": starlark.Float(x),
		"y": starlark.Float(y),
		"z": starlark.Float(z),
	})
}

func geoVector(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y, z float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x?", &x, "y?", &y, "z?", &z); err != nil {
		return nil, err
	}
	return vectorStruct(x, y, z), nil
}

func geoDistance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, c *starlarkstruct.Struct
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &a, "b", &c); err != nil {
		return nil, err
	}
	ax, ay, az, err := vectorComponents(a)
	if err != nil {
		return nil, fmt.Errorf("%s: a: %w", b.Name(), err)
	}
	bx, by, bz, err := vectorComponents(c)
	if err != nil {
		return nil, fmt.Errorf("%s: b: %w", b.Name(), err)
	}
	dx, dy, dz := ax-bx, ay-by, az-bz
	return starlark.Float(math.Sqrt(dx*dx + dy*dy + dz*dz)), nil
}

func vectorComponents(s *starlarkstruct.Struct) (x, y, z float64, err error) {
	for _, c := range []struct {
		name string
		dst  *float64
	}{{"x", &x}, {"y", &y}, {"z", &z}} {
		v, err2 := s.Attr(c.name)
		if err2 != nil {
			return 0, 0, 0, fmt.Errorf("missing component %q", c.name)
		}
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, 0, 0, fmt.Errorf("component %q is not a number", c.name)
		}
		*c.dst = f
	}
	return x, y, z, nil
}

// SketchModule returns the host sketch module: pure-data constructors for
// sketch primitives, suitable as object properties.
func SketchModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "sketch",
		Members: starlark.StringDict{
			"circle":    starlark.NewBuiltin("sketch.circle", sketchCircle),
			"line":      starlark.NewBuiltin("sketch.line", sketchLine),
			"rectangle": starlark.NewBuiltin("sketch.rectangle", sketchRectangle),
			"arc":       starlark.NewBuiltin("sketch.arc", sketchArc),
		},
	}
}

func sketchCircle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cx, cy, radius float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"center_x", &cx, "center_y", &cy, "radius", &radius); err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%s: radius must be positive", b.Name())
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"kind":     starlark.String("circle"),
		"center_x": starlark.Float(cx),
		"center_y": starlark.Float(cy),
		"radius":   starlark.Float(radius),
	}), nil
}

func sketchLine(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x1, y1, x2, y2 float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"x1", &x1, "y1", &y1, "x2", &x2, "y2", &y2); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"kind": starlark.String("line"),
		"x1":   starlark.Float(x1),
		"y1":   starlark.Float(y1),
		"x2":   starlark.Float(x2),
		"y2":   starlark.Float(y2),
	}), nil
}

func sketchRectangle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x1, y1, x2, y2 float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"x1", &x1, "y1", &y1, "x2", &x2, "y2", &y2); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"kind": starlark.String("rectangle"),
		"x1":   starlark.Float(x1),
		"y1":   starlark.Float(y1),
		"x2":   starlark.Float(x2),
		"y2":   starlark.Float(y2),
	}), nil
}

func sketchArc(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cx, cy, radius, start, end float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"center_x", &cx, "center_y", &cy, "radius", &radius,
		"start_angle", &start, "end_angle", &end); err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%s: radius must be positive", b.Name())
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"kind":        starlark.String("arc"),
		"center_x":    starlark.Float(cx),
		"center_y":    starlark.Float(cy),
		"radius":      starlark.Float(radius),
		"start_angle": starlark.Float(start),
		"end_angle":   starlark.Float(end),
	}), nil
}
