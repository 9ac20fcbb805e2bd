package meta

import (
	"encoding/json"
	"fmt"
)

func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, b)
	}
	*k = v
	return nil
}

func (p *PrimitiveTag) UnmarshalText(b []byte) error {
	v, ok := ParsePrimitive(string(b))
	if !ok {
		return fmt.Errorf("%w: unknown primitive %q", ErrInvalidRecord, b)
	}
	*p = v
	return nil
}

func (m *MemberKind) UnmarshalText(b []byte) error {
	v, ok := ParseMemberKind(string(b))
	if !ok {
		return fmt.Errorf("%w: unknown member kind %q", ErrInvalidRecord, b)
	}
	*m = v
	return nil
}

func (t *TypeRef) UnmarshalText(b []byte) error {
	*t = ParseTypeRef(string(b))
	return nil
}

// NewPayload returns an empty payload of the struct type kind uses.
func NewPayload(k Kind) (Payload, error) {
	switch k {
	case KindPrimitive:
		return &PrimitivePayload{}, nil
	case KindClass, KindObject:
		return &ClassPayload{}, nil
	case KindFunction:
		return &FunctionPayload{}, nil
	case KindEnum:
		return &EnumPayload{}, nil
	case KindUnion, KindIntersection:
		return &CompositePayload{}, nil
	case KindMapped:
		return &MappedPayload{}, nil
	case KindConditional:
		return &ConditionalPayload{}, nil
	case KindGenericAlias:
		return &GenericAliasPayload{}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidRecord, uint8(k))
}

// UnmarshalJSON decodes the JSON rendering of a record, choosing the
// payload type from the kind.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string          `json:"name"`
		Kind    Kind            `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := NewPayload(raw.Kind)
	if err != nil {
		return err
	}
	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		if err := json.Unmarshal(raw.Payload, p); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrInvalidRecord, raw.Name, err)
		}
	}
	r.Name, r.Kind, r.Payload = raw.Name, raw.Kind, p
	return r.Validate()
}
