package document

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the block in its wire shape. Object block fields are
// flattened next to _key and _type.
func (b Block) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if b.IsText() {
		for k, v := range b.Props {
			out[k] = v
		}
		if b.Children != nil {
			out[PropChildren] = b.Children
		}
		if b.MarkDefs != nil {
			out[PropMarkDefs] = b.MarkDefs
		}
	} else {
		for k, v := range b.Value {
			out[k] = v
		}
	}
	out[PropKey] = b.Key
	out[PropType] = b.Type
	return json.Marshal(out)
}

// UnmarshalJSON decodes a block and classifies it once, by _type.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("document: decode block: %w", err)
	}
	var nb Block
	if err := decodeString(raw, PropKey, &nb.Key); err != nil {
		return err
	}
	if err := decodeString(raw, PropType, &nb.Type); err != nil {
		return err
	}
	delete(raw, PropKey)
	delete(raw, PropType)

	if nb.Type == TextBlockType {
		nb.Kind = KindTextBlock
		if rc, ok := raw[PropChildren]; ok {
			if err := json.Unmarshal(rc, &nb.Children); err != nil {
				return fmt.Errorf("document: decode children of %q: %w", nb.Key, err)
			}
			if nb.Children == nil {
				nb.Children = []Child{}
			}
			delete(raw, PropChildren)
		}
		if rm, ok := raw[PropMarkDefs]; ok {
			if err := json.Unmarshal(rm, &nb.MarkDefs); err != nil {
				return fmt.Errorf("document: decode markDefs of %q: %w", nb.Key, err)
			}
			if nb.MarkDefs == nil {
				nb.MarkDefs = []MarkDef{}
			}
			delete(raw, PropMarkDefs)
		}
		props, err := decodeRest(raw)
		if err != nil {
			return err
		}
		nb.Props = props
	} else {
		nb.Kind = KindObjectBlock
		value, err := decodeRest(raw)
		if err != nil {
			return err
		}
		nb.Value = value
	}
	*b = nb
	return nil
}

// MarshalJSON encodes the child in its wire shape.
func (c Child) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if c.IsSpan() {
		marks := c.Marks
		if marks == nil {
			marks = []string{}
		}
		out[PropText] = c.Text
		out[PropMarks] = marks
	} else {
		for k, v := range c.Value {
			out[k] = v
		}
	}
	out[PropKey] = c.Key
	out[PropType] = c.Type
	return json.Marshal(out)
}

// UnmarshalJSON decodes a child. A child without _type but with text is a span.
func (c *Child) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("document: decode child: %w", err)
	}
	var nc Child
	if err := decodeString(raw, PropKey, &nc.Key); err != nil {
		return err
	}
	if err := decodeString(raw, PropType, &nc.Type); err != nil {
		return err
	}
	delete(raw, PropKey)
	delete(raw, PropType)

	_, hasText := raw[PropText]
	if nc.Type == SpanType || (nc.Type == "" && hasText) {
		nc.Kind = KindSpan
		nc.Type = SpanType
		if err := decodeString(raw, PropText, &nc.Text); err != nil {
			return err
		}
		nc.Marks = []string{}
		if rm, ok := raw[PropMarks]; ok {
			if err := json.Unmarshal(rm, &nc.Marks); err != nil {
				return fmt.Errorf("document: decode marks of %q: %w", nc.Key, err)
			}
			if nc.Marks == nil {
				nc.Marks = []string{}
			}
		}
	} else {
		nc.Kind = KindInlineObject
		value, err := decodeRest(raw)
		if err != nil {
			return err
		}
		nc.Value = value
	}
	*c = nc
	return nil
}

// MarshalJSON encodes a mark definition with its fields flattened.
func (m MarkDef) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range m.Fields {
		out[k] = v
	}
	out[PropKey] = m.Key
	out[PropType] = m.Type
	return json.Marshal(out)
}

// UnmarshalJSON decodes a mark definition.
func (m *MarkDef) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("document: decode markDef: %w", err)
	}
	var nm MarkDef
	if err := decodeString(raw, PropKey, &nm.Key); err != nil {
		return err
	}
	if err := decodeString(raw, PropType, &nm.Type); err != nil {
		return err
	}
	delete(raw, PropKey)
	delete(raw, PropType)
	fields, err := decodeRest(raw)
	if err != nil {
		return err
	}
	nm.Fields = fields
	*m = nm
	return nil
}

// DecodeValue parses a JSON array of blocks. A JSON null decodes to an empty
// document.
func DecodeValue(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = Value{}
	}
	return v, nil
}

// ToJSONValue converts a typed node (Block, Child, Value, slices of them) into
// the generic map/slice form used inside patches.
func ToJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BlockFromJSONValue converts a generic value into a Block.
func BlockFromJSONValue(v any) (Block, error) {
	if b, ok := v.(Block); ok {
		return b.Clone(), nil
	}
	var b Block
	raw, err := json.Marshal(v)
	if err != nil {
		return b, err
	}
	err = json.Unmarshal(raw, &b)
	return b, err
}

// ChildFromJSONValue converts a generic value into a Child.
func ChildFromJSONValue(v any) (Child, error) {
	if c, ok := v.(Child); ok {
		return c.Clone(), nil
	}
	var c Child
	raw, err := json.Marshal(v)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(raw, &c)
	return c, err
}

func decodeString(raw map[string]json.RawMessage, name string, dst *string) error {
	r, ok := raw[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(r, dst); err != nil {
		return fmt.Errorf("document: field %s: %w", name, err)
	}
	return nil
}

func decodeRest(raw map[string]json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for k, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("document: field %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
