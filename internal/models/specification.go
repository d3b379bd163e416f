package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// JSON keys of the structured specification schema
const (
	KeyUnit      = "единица_измерения"
	KeyProfiles  = "профили"
	KeyGrades    = "марки_стали"
	KeySizes     = "размеры"
	KeyElements  = "элементы"
	KeyType      = "тип"
	KeyPositions = "позиции"
	KeyMass      = "масса"
)

// Specification is the structured bill of materials extracted from one drawing:
// profile -> steel grade -> nominal size -> elements.
// Every nesting level keeps the insertion order of the source document.
type Specification struct {
	Unit     string
	Profiles []Profile
}

// Profile groups steel grades under a profile name (e.g. "Двутавры стальные горячекатанные")
type Profile struct {
	Name   string
	Grades []Grade
}

// Grade groups nominal sizes under a steel grade (e.g. "С255")
type Grade struct {
	Name  string
	Sizes []Size
}

// Size groups elements under a nominal profile size (e.g. "20Ш1")
type Size struct {
	Name     string
	Elements []Element
}

// Element is a single leaf row. Mass is nil when the source value was illegible.
type Element struct {
	Type      string
	Positions Positions
	Mass      *float64
}

// Positions is a list of position marks. Numbers in the source JSON are kept as strings.
type Positions []string

// NewSpecification creates an empty specification with the given unit of measure
func NewSpecification(unit string) *Specification {
	return &Specification{Unit: unit}
}

// Add appends an element under profile/grade/size, creating missing levels.
// Existing keys are reused so names stay unique per level.
func (s *Specification) Add(profile, grade, size string, e Element) {
	p := s.profile(profile)
	g := p.grade(grade)
	z := g.size(size)
	z.Elements = append(z.Elements, e)
}

func (s *Specification) profile(name string) *Profile {
	for i := range s.Profiles {
		if s.Profiles[i].Name == name {
			return &s.Profiles[i]
		}
	}
	s.Profiles = append(s.Profiles, Profile{Name: name})
	return &s.Profiles[len(s.Profiles)-1]
}

func (p *Profile) grade(name string) *Grade {
	for i := range p.Grades {
		if p.Grades[i].Name == name {
			return &p.Grades[i]
		}
	}
	p.Grades = append(p.Grades, Grade{Name: name})
	return &p.Grades[len(p.Grades)-1]
}

func (g *Grade) size(name string) *Size {
	for i := range g.Sizes {
		if g.Sizes[i].Name == name {
			return &g.Sizes[i]
		}
	}
	g.Sizes = append(g.Sizes, Size{Name: name})
	return &g.Sizes[len(g.Sizes)-1]
}

// Each visits every element in document order
func (s *Specification) Each(fn func(profile, grade, size string, e Element)) {
	for _, p := range s.Profiles {
		for _, g := range p.Grades {
			for _, z := range g.Sizes {
				for _, e := range z.Elements {
					fn(p.Name, g.Name, z.Name, e)
				}
			}
		}
	}
}

// TotalMass sums all legible element masses
func (s *Specification) TotalMass() float64 {
	total := 0.0
	s.Each(func(_, _, _ string, e Element) {
		if e.Mass != nil {
			total += *e.Mass
		}
	})
	return total
}

// ProfileCount returns the number of distinct profiles
func (s *Specification) ProfileCount() int {
	return len(s.Profiles)
}

// ElementCount returns the number of leaf elements
func (s *Specification) ElementCount() int {
	count := 0
	s.Each(func(_, _, _ string, _ Element) { count++ })
	return count
}

// MarshalJSON writes the nested schema, preserving order at every level
func (s Specification) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKey(&buf, KeyUnit)
	writeValue(&buf, s.Unit)
	buf.WriteByte(',')
	writeKey(&buf, KeyProfiles)
	buf.WriteByte('{')
	for i, p := range s.Profiles {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, p.Name)
		buf.WriteByte('{')
		writeKey(&buf, KeyGrades)
		buf.WriteByte('{')
		for j, g := range p.Grades {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeKey(&buf, g.Name)
			buf.WriteByte('{')
			writeKey(&buf, KeySizes)
			buf.WriteByte('{')
			for k, z := range g.Sizes {
				if k > 0 {
					buf.WriteByte(',')
				}
				writeKey(&buf, z.Name)
				buf.WriteByte('{')
				writeKey(&buf, KeyElements)
				elements := z.Elements
				if elements == nil {
					elements = []Element{}
				}
				data, err := json.Marshal(elements)
				if err != nil {
					return nil, err
				}
				buf.Write(data)
				buf.WriteString("}")
			}
			buf.WriteString("}}")
		}
		buf.WriteString("}}")
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) {
	writeValue(buf, key)
	buf.WriteByte(':')
}

func writeValue(buf *bytes.Buffer, v string) {
	// json.Marshal of a string cannot fail
	data, _ := json.Marshal(v)
	buf.Write(data)
}

// UnmarshalJSON decodes the nested schema with a streaming decoder so that
// object key order survives. Unknown keys are skipped, duplicate keys merge.
func (s *Specification) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	result := Specification{}
	err := decodeObject(dec, func(key string) error {
		switch key {
		case KeyUnit:
			var unit interface{}
			if err := dec.Decode(&unit); err != nil {
				return err
			}
			if unit != nil {
				result.Unit = strings.TrimSpace(fmt.Sprint(unit))
			}
			return nil
		case KeyProfiles:
			return decodeObject(dec, func(profile string) error {
				return decodeObject(dec, func(key string) error {
					if key != KeyGrades {
						return skipValue(dec)
					}
					return decodeObject(dec, func(grade string) error {
						return decodeObject(dec, func(key string) error {
							if key != KeySizes {
								return skipValue(dec)
							}
							return decodeObject(dec, func(size string) error {
								return decodeObject(dec, func(key string) error {
									if key != KeyElements {
										return skipValue(dec)
									}
									elements, err := decodeElements(dec)
									if err != nil {
										return fmt.Errorf("%s/%s/%s: %w", profile, grade, size, err)
									}
									// Touch the size even when the element list is empty
									result.profile(profile).grade(grade).size(size)
									for _, e := range elements {
										result.Add(profile, grade, size, e)
									}
									return nil
								})
							})
						})
					})
				})
			})
		default:
			return skipValue(dec)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid specification: %w", err)
	}

	*s = result
	return nil
}

// decodeObject reads one JSON object and calls fn for every key; fn must consume the value.
// A JSON null is treated as an empty object.
func decodeObject(dec *json.Decoder, fn func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}
		if err := fn(strings.TrimSpace(key)); err != nil {
			return err
		}
	}

	// Consume closing '}'
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	var skip json.RawMessage
	return dec.Decode(&skip)
}

// decodeElements accepts the current list form and the older object form
// keyed by element type.
func decodeElements(dec *json.Decoder) ([]Element, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var elements []Element
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, err
		}
		return elements, nil
	}

	var elements []Element
	inner := json.NewDecoder(bytes.NewReader(trimmed))
	err := decodeObject(inner, func(elementType string) error {
		var e Element
		if err := inner.Decode(&e); err != nil {
			return err
		}
		if e.Type == "" {
			e.Type = elementType
		}
		elements = append(elements, e)
		return nil
	})
	return elements, err
}

type elementJSON struct {
	Type      string          `json:"тип"`
	Positions Positions       `json:"позиции"`
	Mass      json.RawMessage `json:"масса"`
}

// MarshalJSON always writes the mass key, as null when illegible
func (e Element) MarshalJSON() ([]byte, error) {
	positions := e.Positions
	if positions == nil {
		positions = Positions{}
	}
	mass := json.RawMessage("null")
	if e.Mass != nil {
		mass = json.RawMessage(strconv.FormatFloat(*e.Mass, 'f', -1, 64))
	}
	return json.Marshal(elementJSON{Type: e.Type, Positions: positions, Mass: mass})
}

// UnmarshalJSON accepts numeric masses, numeric strings with a decimal comma, and null
func (e *Element) UnmarshalJSON(data []byte) error {
	var aux elementJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Type = strings.TrimSpace(aux.Type)
	e.Positions = aux.Positions
	e.Mass = parseMass(aux.Mass)
	return nil
}

func parseMass(raw json.RawMessage) *float64 {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		trimmed = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil
	}
	return &v
}

// UnmarshalJSON accepts a list of strings and numbers, a single value, or null
func (p *Positions) UnmarshalJSON(data []byte) error {
	var items []interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		var single interface{}
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		items = []interface{}{single}
	}

	out := make(Positions, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case nil:
			continue
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	*p = out
	return nil
}

// Float returns a pointer to v, for building elements
func Float(v float64) *float64 {
	return &v
}
