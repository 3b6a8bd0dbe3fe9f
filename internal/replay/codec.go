package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
)

// RecordingDocument models the on-disk JSON contract for a recording. It is
// shared with the schema generator so tooling can validate documents without
// loading them through the engine.
type RecordingDocument struct {
	TotalDuration float64            `json:"total_duration" jsonschema:"title=Total duration,description=Length of the capture session in seconds"`
	Timelines     []TimelineDocument `json:"timelines" jsonschema:"description=One entry per recorded entity"`
}

// TimelineDocument carries one entity's ordered sample history.
type TimelineDocument struct {
	EntityID string          `json:"entity_id" jsonschema:"description=Declared id of the recorded entity"`
	States   []StateDocument `json:"states" jsonschema:"description=Samples ordered by non-decreasing timestamp"`
}

// StateDocument carries one captured snapshot.
type StateDocument struct {
	EntityID   string             `json:"entity_id"`
	Timestamp  float64            `json:"timestamp" jsonschema:"description=Seconds since the start of the recording"`
	Position   VectorDocument     `json:"position"`
	Rotation   QuaternionDocument `json:"rotation"`
	Scale      VectorDocument     `json:"scale"`
	Properties []PropertyDocument `json:"properties,omitempty" jsonschema:"description=Typed extra state in capture order"`
}

// VectorDocument is the wire shape of a 3-component vector.
type VectorDocument struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// QuaternionDocument is the wire shape of a rotation.
type QuaternionDocument struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// ColorDocument is the wire shape of an RGBA color.
type ColorDocument struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// PropertyDocument is the wire shape of one typed property. The type tag
// selects how the value field is interpreted.
type PropertyDocument struct {
	Key     string          `json:"key"`
	TypeTag string          `json:"type_tag" jsonschema:"description=One of String Float Int Bool Vector3 Quaternion Color"`
	Value   json.RawMessage `json:"value" jsonschema:"description=Payload whose shape is selected by type_tag"`
}

// EncodeRecording renders a recording into its document form and marshals it
// with indentation. Timelines are ordered by entity id and properties keep
// their capture order, so encoding is deterministic.
func EncodeRecording(rec *Recording) ([]byte, error) {
	doc, err := buildDocument(rec)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return append(data, '\n'), nil
}

// DecodeRecording parses a recording document. Unknown type tags and
// malformed payloads fail with a DeserializationError; nothing is partially
// applied.
func DecodeRecording(data []byte) (*Recording, error) {
	var doc RecordingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	rec := &Recording{TotalDuration: doc.TotalDuration}
	if len(doc.Timelines) > 0 {
		rec.Timelines = make(map[string]*Timeline, len(doc.Timelines))
	}
	for _, tlDoc := range doc.Timelines {
		tl := &Timeline{EntityID: tlDoc.EntityID}
		for _, stateDoc := range tlDoc.States {
			snap, err := decodeState(stateDoc)
			if err != nil {
				return nil, &DeserializationError{Err: err}
			}
			tl.Append(snap)
		}
		rec.Timelines[tlDoc.EntityID] = tl
	}
	return rec, nil
}

// SaveRecording writes a recording document to path atomically: the document
// lands in a temp file first and is renamed into place, so a crash mid-write
// never leaves a truncated recording behind.
func SaveRecording(rec *Recording, path string) error {
	data, err := EncodeRecording(rec)
	if err != nil {
		if serr, ok := err.(*SerializationError); ok {
			serr.Path = path
			return serr
		}
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &SerializationError{Path: path, Err: err}
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &SerializationError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &SerializationError{Path: path, Err: err}
	}
	return nil
}

// LoadRecording reads and decodes a recording document from path.
func LoadRecording(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DeserializationError{Path: path, Err: err}
	}
	rec, err := DecodeRecording(data)
	if err != nil {
		if derr, ok := err.(*DeserializationError); ok {
			derr.Path = path
			return nil, derr
		}
		return nil, err
	}
	return rec, nil
}

// EncodeState renders a single snapshot into its document form. The hub's
// state broadcasts and the runtime bridge speak the same shape the codec
// persists, so wire and file payloads never drift apart.
func EncodeState(snap StateSnapshot) (StateDocument, error) {
	doc, err := encodeState(snap)
	if err != nil {
		return StateDocument{}, &SerializationError{Err: err}
	}
	return doc, nil
}

// DecodeState parses a single state document.
func DecodeState(doc StateDocument) (StateSnapshot, error) {
	snap, err := decodeState(doc)
	if err != nil {
		return StateSnapshot{}, &DeserializationError{Err: err}
	}
	return snap, nil
}

func buildDocument(rec *Recording) (*RecordingDocument, error) {
	doc := &RecordingDocument{}
	if rec == nil {
		return doc, nil
	}
	doc.TotalDuration = rec.TotalDuration
	for _, id := range rec.EntityIDs() {
		tl := rec.Timelines[id]
		tlDoc := TimelineDocument{EntityID: id}
		for _, snap := range tl.Samples {
			stateDoc, err := encodeState(snap)
			if err != nil {
				return nil, err
			}
			tlDoc.States = append(tlDoc.States, stateDoc)
		}
		doc.Timelines = append(doc.Timelines, tlDoc)
	}
	return doc, nil
}

func encodeState(snap StateSnapshot) (StateDocument, error) {
	doc := StateDocument{
		EntityID:  snap.EntityID,
		Timestamp: snap.Timestamp,
		Position:  VectorDocument{X: snap.Position.X, Y: snap.Position.Y, Z: snap.Position.Z},
		Rotation:  QuaternionDocument{X: snap.Rotation.X, Y: snap.Rotation.Y, Z: snap.Rotation.Z, W: snap.Rotation.W},
		Scale:     VectorDocument{X: snap.Scale.X, Y: snap.Scale.Y, Z: snap.Scale.Z},
	}
	for _, key := range snap.Properties.Keys() {
		value, ok := snap.Properties.Get(key)
		if !ok {
			continue
		}
		propDoc, err := encodeProperty(key, value)
		if err != nil {
			return StateDocument{}, err
		}
		doc.Properties = append(doc.Properties, propDoc)
	}
	return doc, nil
}

func encodeProperty(key string, value PropertyValue) (PropertyDocument, error) {
	var payload any
	switch value.Kind() {
	case PropertyString:
		payload, _ = value.AsString()
	case PropertyFloat:
		payload, _ = value.AsFloat()
	case PropertyInt:
		payload, _ = value.AsInt()
	case PropertyBool:
		payload, _ = value.AsBool()
	case PropertyVector3:
		v, _ := value.AsVector3()
		payload = VectorDocument{X: v.X, Y: v.Y, Z: v.Z}
	case PropertyQuaternion:
		q, _ := value.AsQuaternion()
		payload = QuaternionDocument{X: q.X, Y: q.Y, Z: q.Z, W: q.W}
	case PropertyColor:
		c, _ := value.AsColor()
		payload = ColorDocument{R: c.R, G: c.G, B: c.B, A: c.A}
	default:
		return PropertyDocument{}, fmt.Errorf("property %q has no kind", key)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return PropertyDocument{}, fmt.Errorf("property %q: %w", key, err)
	}
	return PropertyDocument{Key: key, TypeTag: string(value.Kind()), Value: raw}, nil
}

func decodeState(doc StateDocument) (StateSnapshot, error) {
	snap := StateSnapshot{
		EntityID:  doc.EntityID,
		Timestamp: doc.Timestamp,
		Position:  geom.Vec3{X: doc.Position.X, Y: doc.Position.Y, Z: doc.Position.Z},
		Rotation:  geom.Quat{X: doc.Rotation.X, Y: doc.Rotation.Y, Z: doc.Rotation.Z, W: doc.Rotation.W},
		Scale:     geom.Vec3{X: doc.Scale.X, Y: doc.Scale.Y, Z: doc.Scale.Z},
	}
	if len(doc.Properties) == 0 {
		return snap, nil
	}
	props := NewProperties()
	for _, propDoc := range doc.Properties {
		value, err := decodeProperty(propDoc)
		if err != nil {
			return StateSnapshot{}, err
		}
		props.Set(propDoc.Key, value)
	}
	snap.Properties = props
	return snap, nil
}

func decodeProperty(doc PropertyDocument) (PropertyValue, error) {
	switch PropertyKind(doc.TypeTag) {
	case PropertyString:
		var v string
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return StringProperty(v), nil
	case PropertyFloat:
		var v float64
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return FloatProperty(v), nil
	case PropertyInt:
		var v int64
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return IntProperty(v), nil
	case PropertyBool:
		var v bool
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return BoolProperty(v), nil
	case PropertyVector3:
		var v VectorDocument
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return Vector3Property(geom.Vec3{X: v.X, Y: v.Y, Z: v.Z}), nil
	case PropertyQuaternion:
		var v QuaternionDocument
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return QuaternionProperty(geom.Quat{X: v.X, Y: v.Y, Z: v.Z, W: v.W}), nil
	case PropertyColor:
		var v ColorDocument
		if err := json.Unmarshal(doc.Value, &v); err != nil {
			return PropertyValue{}, fmt.Errorf("property %q: %w", doc.Key, err)
		}
		return ColorProperty(geom.Color{R: v.R, G: v.G, B: v.B, A: v.A}), nil
	default:
		return PropertyValue{}, fmt.Errorf("property %q: unknown type_tag %q", doc.Key, doc.TypeTag)
	}
}
