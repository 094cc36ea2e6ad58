package trial

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
)

// Point is an assignment of hyperparameter values that keeps the order in
// which dimensions were set.
type Point struct {
	m *orderedmap.OrderedMap[string, any]
}

// Param is one entry of a Point, used on the wire.
type Param struct {
	Name  string `cbor:"1,keyasint" json:"name"`
	Value any    `cbor:"2,keyasint" json:"value"`
}

func NewPoint() Point {
	return Point{m: orderedmap.NewOrderedMap[string, any]()}
}

func PointFromParams(params []Param) Point {
	p := NewPoint()
	for _, kv := range params {
		p.Set(kv.Name, kv.Value)
	}

	return p
}

func (p *Point) Set(name string, v any) {
	if p.m == nil {
		p.m = orderedmap.NewOrderedMap[string, any]()
	}
	p.m.Set(name, v)
}

func (p Point) Get(name string) (any, bool) {
	if p.m == nil {
		return nil, false
	}

	return p.m.Get(name)
}

func (p Point) Len() int {
	if p.m == nil {
		return 0
	}

	return p.m.Len()
}

func (p Point) Keys() []string {
	if p.m == nil {
		return nil
	}

	return p.m.Keys()
}

func (p Point) Params() []Param {
	out := make([]Param, 0, p.Len())
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		out = append(out, Param{Name: k, Value: v})
	}

	return out
}

// Map copies the point into a plain map.
func (p Point) Map() map[string]any {
	out := make(map[string]any, p.Len())
	for _, kv := range p.Params() {
		out[kv.Name] = kv.Value
	}

	return out
}

func (p Point) String() string {
	var buf bytes.Buffer
	for i, kv := range p.Params() {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "%s=%v", kv.Name, kv.Value)
	}

	return buf.String()
}

// MarshalJSON writes the point as an object with keys in insertion order.
func (p Point) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p.Params() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (p *Point) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = NewPoint()

		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("point must be a JSON object")
	}
	out := NewPoint()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("point key must be a string")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out.Set(key, v)
	}
	*p = out

	return nil
}
