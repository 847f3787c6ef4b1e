package atomdb

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire class tags for concrete atom kinds.
const (
	ClassLiteral       = "Literal"
	ClassDBObject      = "DBObject"
	ClassMutableObject = "MutableObject"
	ClassBytesAtom     = "BytesAtom"
)

// Tags for non-atom structured values.
const (
	tagInt      = "int"
	tagNone     = "None"
	tagDatetime = "datetime"
	tagDuration = "duration"
	tagMap      = "map"
)

// Wire field names.
const (
	keyClassName     = "className"
	keyTransactionID = "transaction_id"
	keyOffset        = "offset"
	keyValue         = "value"
	keyISO           = "iso"
	keyMicroseconds  = "microseconds"
	keyEntries       = "entries"
	keyHashKey       = "hash_key"
)

// ReservedAttributePrefix marks attribute names reserved for internal
// bookkeeping. User data must never carry them.
const ReservedAttributePrefix = "_"

// encodeAtom converts an atom's attribute state into the generic wire
// mapping: a className discriminator plus one entry per attribute. Atom
// attributes are saved first (through visited) so every reference encodes
// a valid pointer.
func encodeAtom(ctx context.Context, tx Transaction, className string,
	attrs map[string]Value, visited saveSet) (map[string]interface{}, error) {

	encoded := make(map[string]interface{}, len(attrs)+1)
	encoded[keyClassName] = className

	for name, value := range attrs {
		if strings.HasPrefix(name, ReservedAttributePrefix) {
			return nil, NewValidationError("attribute %q uses the reserved prefix %q",
				name, ReservedAttributePrefix)
		}
		ev, err := encodeValue(ctx, tx, value, visited)
		if err != nil {
			return nil, err
		}
		encoded[name] = ev
	}
	return encoded, nil
}

func encodeValue(ctx context.Context, tx Transaction, value Value, visited saveSet) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return map[string]interface{}{keyClassName: tagNone}, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case float64:
		return v, nil
	case int:
		return encodeValue(ctx, tx, int64(v), visited)
	case int64:
		// Tagged with a decimal payload so integers survive JSON backends
		// without precision loss.
		return map[string]interface{}{
			keyClassName: tagInt,
			keyValue:     strconv.FormatInt(v, 10),
		}, nil
	case time.Time:
		return map[string]interface{}{
			keyClassName: tagDatetime,
			keyISO:       v.Format(time.RFC3339Nano),
		}, nil
	case time.Duration:
		return map[string]interface{}{
			keyClassName:    tagDuration,
			keyMicroseconds: strconv.FormatInt(v.Microseconds(), 10),
		}, nil
	case []byte:
		// Blobs live out of line: push the raw bytes and reference them as
		// a secondary blob atom.
		pointer, err := tx.Storage().PushBytes(v).Result(ctx)
		if err != nil {
			return nil, err
		}
		return encodePointer(ClassBytesAtom, pointer), nil
	case map[string]Value:
		entries := make(map[string]interface{}, len(v))
		for k, ev := range v {
			encoded, err := encodeValue(ctx, tx, ev, visited)
			if err != nil {
				return nil, err
			}
			entries[k] = encoded
		}
		return map[string]interface{}{keyClassName: tagMap, keyEntries: entries}, nil
	case *MutableObject:
		// The handle persists by identity only; its content lives in the
		// mutable-slot table of the committed root.
		return map[string]interface{}{
			keyClassName: ClassMutableObject,
			keyHashKey:   v.HashKey().String(),
		}, nil
	case Atom:
		v.Bind(tx)
		if err := v.saveInto(ctx, visited); err != nil {
			return nil, err
		}
		return encodePointer(v.ClassName(), v.Pointer()), nil
	default:
		return nil, NewValidationError("unsupported attribute value type %T", value)
	}
}

func encodePointer(className string, pointer AtomPointer) map[string]interface{} {
	return map[string]interface{}{
		keyClassName:     className,
		keyTransactionID: pointer.TransactionID.String(),
		keyOffset:        pointer.Offset,
	}
}

// decodeAtom validates the class discriminator of an encoded record and
// decodes its attributes. Reserved-prefix attribute names in stored data
// indicate corruption, not misuse.
func decodeAtom(ctx context.Context, tx Transaction, wantClass string,
	encoded map[string]interface{}) (map[string]Value, error) {

	className, _ := encoded[keyClassName].(string)
	if className != wantClass {
		return nil, NewCorruptionError("stored record has class %q, expected %q",
			className, wantClass)
	}

	attrs := make(map[string]Value, len(encoded)-1)
	for name, raw := range encoded {
		if name == keyClassName {
			continue
		}
		if strings.HasPrefix(name, ReservedAttributePrefix) {
			return nil, NewCorruptionError("stored %s record carries reserved attribute %q",
				className, name)
		}
		value, err := decodeValue(ctx, tx, raw)
		if err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	return attrs, nil
}

func decodeValue(ctx context.Context, tx Transaction, raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, NewCorruptionError("unreadable number %q in stored data", v.String())
		}
		return f, nil
	case map[string]interface{}:
		return decodeTagged(ctx, tx, v)
	default:
		return nil, NewCorruptionError("unsupported wire value type %T", raw)
	}
}

func decodeTagged(ctx context.Context, tx Transaction, v map[string]interface{}) (Value, error) {
	className, _ := v[keyClassName].(string)
	switch className {
	case tagNone:
		return nil, nil
	case tagInt:
		s, _ := v[keyValue].(string)
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, NewCorruptionError("unreadable int payload %q", s)
		}
		return i, nil
	case tagDatetime:
		iso, _ := v[keyISO].(string)
		t, err := time.Parse(time.RFC3339Nano, iso)
		if err != nil {
			return nil, NewCorruptionError("unreadable datetime payload %q", iso)
		}
		return t, nil
	case tagDuration:
		s, _ := v[keyMicroseconds].(string)
		us, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, NewCorruptionError("unreadable duration payload %q", s)
		}
		return time.Duration(us) * time.Microsecond, nil
	case tagMap:
		rawEntries, _ := v[keyEntries].(map[string]interface{})
		entries := make(map[string]Value, len(rawEntries))
		for k, rv := range rawEntries {
			value, err := decodeValue(ctx, tx, rv)
			if err != nil {
				return nil, err
			}
			entries[k] = value
		}
		return entries, nil
	case ClassBytesAtom:
		pointer, err := decodePointer(v)
		if err != nil {
			return nil, err
		}
		return tx.Storage().GetBytes(pointer).Result(ctx)
	case ClassMutableObject:
		s, _ := v[keyHashKey].(string)
		key, err := uuid.Parse(s)
		if err != nil {
			return nil, NewCorruptionError("unreadable mutable hash key %q", s)
		}
		return mutableFromKey(tx, key), nil
	case "":
		return nil, NewCorruptionError("stored value is missing its class tag")
	default:
		if _, ok := tx.Registry().Lookup(className); !ok {
			return nil, NewCorruptionError("unresolvable class tag %q in stored data", className)
		}
		pointer, err := decodePointer(v)
		if err != nil {
			return nil, err
		}
		return tx.ReadObject(className, pointer)
	}
}

func decodePointer(v map[string]interface{}) (AtomPointer, error) {
	s, _ := v[keyTransactionID].(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return AtomPointer{}, NewCorruptionError("unreadable transaction id %q in atom reference", s)
	}
	offset, err := decodeOffset(v[keyOffset])
	if err != nil {
		return AtomPointer{}, err
	}
	return NewAtomPointer(id, offset), nil
}

func decodeOffset(raw interface{}) (uint64, error) {
	switch o := raw.(type) {
	case float64:
		return uint64(o), nil
	case int64:
		return uint64(o), nil
	case uint64:
		return o, nil
	case int:
		return uint64(o), nil
	case json.Number:
		i, err := strconv.ParseUint(o.String(), 10, 64)
		if err != nil {
			return 0, NewCorruptionError("unreadable offset %q in atom reference", o.String())
		}
		return i, nil
	default:
		return 0, NewCorruptionError("unreadable offset of type %T in atom reference", raw)
	}
}
