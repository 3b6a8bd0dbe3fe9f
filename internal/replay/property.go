package replay

import (
	"fmt"
	"math"

	"github.com/iancoleman/orderedmap"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
)

// PropertyKind identifies the active variant of a PropertyValue. The set of
// kinds is closed: decoding an unknown kind fails instead of mapping to a
// fallback, and the zero PropertyValue carries no kind and is rejected on
// encode.
type PropertyKind string

const (
	// PropertyString holds an opaque string value.
	PropertyString PropertyKind = "String"
	// PropertyFloat holds a 64-bit float.
	PropertyFloat PropertyKind = "Float"
	// PropertyInt holds a 64-bit signed integer.
	PropertyInt PropertyKind = "Int"
	// PropertyBool holds a boolean flag.
	PropertyBool PropertyKind = "Bool"
	// PropertyVector3 holds a 3-component vector.
	PropertyVector3 PropertyKind = "Vector3"
	// PropertyQuaternion holds a unit rotation quaternion.
	PropertyQuaternion PropertyKind = "Quaternion"
	// PropertyColor holds a 4-component float color.
	PropertyColor PropertyKind = "Color"
)

// PropertyValue is a tagged union over the value kinds a snapshot property
// can carry. Exactly one variant is active and the kind always matches the
// stored payload; values are constructed through the typed constructors and
// read back through the typed accessors.
type PropertyValue struct {
	kind PropertyKind
	str  string
	num  float64
	i    int64
	b    bool
	vec  geom.Vec3
	quat geom.Quat
	col  geom.Color
}

// StringProperty wraps a string value.
func StringProperty(v string) PropertyValue {
	return PropertyValue{kind: PropertyString, str: v}
}

// FloatProperty wraps a float value.
func FloatProperty(v float64) PropertyValue {
	return PropertyValue{kind: PropertyFloat, num: v}
}

// IntProperty wraps an integer value.
func IntProperty(v int64) PropertyValue {
	return PropertyValue{kind: PropertyInt, i: v}
}

// BoolProperty wraps a boolean value.
func BoolProperty(v bool) PropertyValue {
	return PropertyValue{kind: PropertyBool, b: v}
}

// Vector3Property wraps a vector value.
func Vector3Property(v geom.Vec3) PropertyValue {
	return PropertyValue{kind: PropertyVector3, vec: v}
}

// QuaternionProperty wraps a rotation value.
func QuaternionProperty(v geom.Quat) PropertyValue {
	return PropertyValue{kind: PropertyQuaternion, quat: v}
}

// ColorProperty wraps a color value.
func ColorProperty(v geom.Color) PropertyValue {
	return PropertyValue{kind: PropertyColor, col: v}
}

// Kind returns the active variant tag. The zero value reports an empty kind.
func (v PropertyValue) Kind() PropertyKind { return v.kind }

// Valid reports whether the value was built through one of the constructors.
func (v PropertyValue) Valid() bool { return v.kind != "" }

// AsString returns the string payload when the kind matches.
func (v PropertyValue) AsString() (string, bool) {
	return v.str, v.kind == PropertyString
}

// AsFloat returns the float payload when the kind matches.
func (v PropertyValue) AsFloat() (float64, bool) {
	return v.num, v.kind == PropertyFloat
}

// AsInt returns the integer payload when the kind matches.
func (v PropertyValue) AsInt() (int64, bool) {
	return v.i, v.kind == PropertyInt
}

// AsBool returns the boolean payload when the kind matches.
func (v PropertyValue) AsBool() (bool, bool) {
	return v.b, v.kind == PropertyBool
}

// AsVector3 returns the vector payload when the kind matches.
func (v PropertyValue) AsVector3() (geom.Vec3, bool) {
	return v.vec, v.kind == PropertyVector3
}

// AsQuaternion returns the rotation payload when the kind matches.
func (v PropertyValue) AsQuaternion() (geom.Quat, bool) {
	return v.quat, v.kind == PropertyQuaternion
}

// AsColor returns the color payload when the kind matches.
func (v PropertyValue) AsColor() (geom.Color, bool) {
	return v.col, v.kind == PropertyColor
}

// Equal reports whether two values share the same kind and payload.
func (v PropertyValue) Equal(o PropertyValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case PropertyString:
		return v.str == o.str
	case PropertyFloat:
		return v.num == o.num
	case PropertyInt:
		return v.i == o.i
	case PropertyBool:
		return v.b == o.b
	case PropertyVector3:
		return v.vec == o.vec
	case PropertyQuaternion:
		return v.quat == o.quat
	case PropertyColor:
		return v.col == o.col
	default:
		return true
	}
}

func (v PropertyValue) String() string {
	switch v.kind {
	case PropertyString:
		return fmt.Sprintf("String(%q)", v.str)
	case PropertyFloat:
		return fmt.Sprintf("Float(%v)", v.num)
	case PropertyInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case PropertyBool:
		return fmt.Sprintf("Bool(%v)", v.b)
	case PropertyVector3:
		return fmt.Sprintf("Vector3(%v,%v,%v)", v.vec.X, v.vec.Y, v.vec.Z)
	case PropertyQuaternion:
		return fmt.Sprintf("Quaternion(%v,%v,%v,%v)", v.quat.X, v.quat.Y, v.quat.Z, v.quat.W)
	case PropertyColor:
		return fmt.Sprintf("Color(%v,%v,%v,%v)", v.col.R, v.col.G, v.col.B, v.col.A)
	default:
		return "Invalid"
	}
}

// InterpolateProperty blends two property values captured at the bracketing
// samples. Floats, vectors, quaternions and colors interpolate continuously,
// integers interpolate linearly and round to the nearest value, and every
// other combination (strings, booleans, or a key that changed kind between
// samples) resolves to the nearer sample: before when frac < 0.5, after
// otherwise.
func InterpolateProperty(before, after PropertyValue, frac float64) PropertyValue {
	if before.kind != after.kind {
		return pickNearest(before, after, frac)
	}
	switch before.kind {
	case PropertyFloat:
		return FloatProperty(geom.LerpFloat(before.num, after.num, frac))
	case PropertyInt:
		blended := geom.LerpFloat(float64(before.i), float64(after.i), frac)
		return IntProperty(int64(math.Round(blended)))
	case PropertyVector3:
		return Vector3Property(geom.LerpVec3(before.vec, after.vec, frac))
	case PropertyQuaternion:
		return QuaternionProperty(geom.Slerp(before.quat, after.quat, frac))
	case PropertyColor:
		return ColorProperty(geom.LerpColor(before.col, after.col, frac))
	default:
		return pickNearest(before, after, frac)
	}
}

func pickNearest(before, after PropertyValue, frac float64) PropertyValue {
	if frac < 0.5 {
		return before
	}
	return after
}

// Properties is an insertion-ordered map from property key to value.
// Iteration follows insertion order so captured state serializes and replays
// deterministically.
type Properties struct {
	entries *orderedmap.OrderedMap
}

// NewProperties returns an empty ordered property map.
func NewProperties() *Properties {
	return &Properties{entries: orderedmap.New()}
}

// Set stores a value under key, keeping the key's original insertion slot
// when it already exists.
func (p *Properties) Set(key string, value PropertyValue) {
	if p == nil {
		return
	}
	if p.entries == nil {
		p.entries = orderedmap.New()
	}
	p.entries.Set(key, value)
}

// Get returns the value stored under key.
func (p *Properties) Get(key string) (PropertyValue, bool) {
	if p == nil || p.entries == nil {
		return PropertyValue{}, false
	}
	raw, ok := p.entries.Get(key)
	if !ok {
		return PropertyValue{}, false
	}
	value, ok := raw.(PropertyValue)
	return value, ok
}

// Keys returns the property keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil || p.entries == nil {
		return nil
	}
	return append([]string(nil), p.entries.Keys()...)
}

// Len returns the number of stored properties.
func (p *Properties) Len() int {
	if p == nil || p.entries == nil {
		return 0
	}
	return len(p.entries.Keys())
}

// Clone returns an independent copy. A nil or empty map clones to nil,
// matching the convention that absent and empty are interchangeable.
func (p *Properties) Clone() *Properties {
	if p == nil || p.entries == nil || len(p.entries.Keys()) == 0 {
		return nil
	}
	clone := NewProperties()
	for _, key := range p.entries.Keys() {
		raw, ok := p.entries.Get(key)
		if !ok {
			continue
		}
		if value, ok := raw.(PropertyValue); ok {
			clone.entries.Set(key, value)
		}
	}
	return clone
}

// Equal reports whether two property maps hold the same keys in the same
// order with equal values.
func (p *Properties) Equal(o *Properties) bool {
	keys := p.Keys()
	otherKeys := o.Keys()
	if len(keys) != len(otherKeys) {
		return false
	}
	for i, key := range keys {
		if otherKeys[i] != key {
			return false
		}
		a, _ := p.Get(key)
		b, _ := o.Get(key)
		if !a.Equal(b) {
			return false
		}
	}
	return true
}
