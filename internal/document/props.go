package document

import (
	"encoding/json"
	"fmt"
)

// Property names shared by the tree engine and the wire format.
const (
	PropKey      = "_key"
	PropType     = "_type"
	PropText     = "text"
	PropMarks    = "marks"
	PropMarkDefs = "markDefs"
	PropChildren = "children"
	PropValue    = "value"
)

// Properties returns every property of b except its children. Custom fields of
// an object block are nested under "value".
func (b Block) Properties() map[string]any {
	p := map[string]any{PropKey: b.Key, PropType: b.Type}
	if b.IsText() {
		if b.MarkDefs != nil {
			p[PropMarkDefs] = cloneMarkDefs(b.MarkDefs)
		}
		for k, v := range b.Props {
			p[k] = CloneAny(v)
		}
		return p
	}
	p[PropValue] = cloneMap(b.Value)
	return p
}

// SetProperty sets one property on b. A nil value removes the property.
func (b *Block) SetProperty(name string, v any) error {
	if v == nil {
		return b.DeleteProperty(name)
	}
	switch name {
	case PropKey, PropType:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("document: %s must be a string, got %T", name, v)
		}
		if name == PropKey {
			b.Key = s
		} else {
			b.Type = s
		}
	case PropChildren:
		return fmt.Errorf("document: children cannot be set as a property")
	case PropMarkDefs:
		if !b.IsText() {
			return fmt.Errorf("document: markDefs on object block %q", b.Key)
		}
		defs, ok := toMarkDefs(v)
		if !ok {
			return fmt.Errorf("document: invalid markDefs value %T", v)
		}
		b.MarkDefs = defs
	case PropValue:
		if b.IsText() {
			return fmt.Errorf("document: value on text block %q", b.Key)
		}
		m, ok := toMap(v)
		if !ok {
			return fmt.Errorf("document: value must be an object, got %T", v)
		}
		b.Value = cloneMap(m)
	default:
		if !b.IsText() {
			return fmt.Errorf("document: object block field %q must be nested under value", name)
		}
		if b.Props == nil {
			b.Props = map[string]any{}
		}
		b.Props[name] = CloneAny(v)
	}
	return nil
}

// DeleteProperty removes one property from b.
func (b *Block) DeleteProperty(name string) error {
	switch name {
	case PropKey, PropType, PropChildren:
		return fmt.Errorf("document: %s cannot be removed", name)
	case PropMarkDefs:
		b.MarkDefs = nil
	case PropValue:
		b.Value = nil
	default:
		delete(b.Props, name)
	}
	return nil
}

// Properties returns every property of c except its text.
func (c Child) Properties() map[string]any {
	p := map[string]any{PropKey: c.Key, PropType: c.Type}
	if c.IsSpan() {
		marks := c.Marks
		if marks == nil {
			marks = []string{}
		}
		p[PropMarks] = append([]string(nil), marks...)
		return p
	}
	p[PropValue] = cloneMap(c.Value)
	return p
}

// SetProperty sets one property on c. A nil value removes the property.
func (c *Child) SetProperty(name string, v any) error {
	if v == nil {
		return c.DeleteProperty(name)
	}
	switch name {
	case PropKey, PropType:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("document: %s must be a string, got %T", name, v)
		}
		if name == PropKey {
			c.Key = s
		} else {
			c.Type = s
		}
	case PropText:
		s, ok := v.(string)
		if !ok || !c.IsSpan() {
			return fmt.Errorf("document: text must be a string on a span")
		}
		c.Text = s
	case PropMarks:
		if !c.IsSpan() {
			return fmt.Errorf("document: marks on inline object %q", c.Key)
		}
		marks, ok := toStrings(v)
		if !ok {
			return fmt.Errorf("document: invalid marks value %T", v)
		}
		c.Marks = marks
	case PropValue:
		if c.IsSpan() {
			return fmt.Errorf("document: value on span %q", c.Key)
		}
		m, ok := toMap(v)
		if !ok {
			return fmt.Errorf("document: value must be an object, got %T", v)
		}
		c.Value = cloneMap(m)
	default:
		return fmt.Errorf("document: unknown child property %q", name)
	}
	return nil
}

// DeleteProperty removes one property from c.
func (c *Child) DeleteProperty(name string) error {
	switch name {
	case PropMarks:
		c.Marks = []string{}
	case PropValue:
		c.Value = nil
	case PropText:
		c.Text = ""
	default:
		return fmt.Errorf("document: %s cannot be removed", name)
	}
	return nil
}

func toStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toMarkDefs(v any) ([]MarkDef, bool) {
	switch t := v.(type) {
	case []MarkDef:
		return cloneMarkDefs(t), true
	case []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		var out []MarkDef
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, false
		}
		if out == nil {
			out = []MarkDef{}
		}
		return out, true
	}
	return nil, false
}

// ToStrings converts a decoded JSON array of strings.
func ToStrings(v any) ([]string, bool) { return toStrings(v) }
