package row

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the value a row exposes for one index. Supported kinds are 64-bit
// integers, strings and composite tuples of those. Keys of different kinds
// order by kind: integers before strings before composites.
type Key interface {
	fmt.Stringer
	rank() int
}

// IntKey is an integer index key.
type IntKey int64

// StringKey is a string index key.
type StringKey string

// CompositeKey is the key of a multi-column index, one element per column.
type CompositeKey []Key

func (IntKey) rank() int       { return 1 }
func (StringKey) rank() int    { return 2 }
func (CompositeKey) rank() int { return 3 }

func (k IntKey) String() string { return strconv.FormatInt(int64(k), 10) }

// String quotes the value so "1" and the integer 1 stay distinct.
func (k StringKey) String() string { return strconv.Quote(string(k)) }

func (k CompositeKey) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Compare imposes a total order over keys. A nil key sorts before every
// non-nil key; two nil keys compare equal.
func Compare(a, b Key) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ra, rb := a.rank(), b.rank(); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ka := a.(type) {
	case IntKey:
		kb := b.(IntKey)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		default:
			return 0
		}
	case StringKey:
		return strings.Compare(string(ka), string(b.(StringKey)))
	case CompositeKey:
		kb := b.(CompositeKey)
		for i := 0; i < len(ka) && i < len(kb); i++ {
			if c := Compare(ka[i], kb[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(ka) < len(kb):
			return -1
		case len(ka) > len(kb):
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Sprintf("row: unknown key kind %T", a))
	}
}

// Equal reports whether two keys compare equal.
func Equal(a, b Key) bool {
	return Compare(a, b) == 0
}

// KeyOf converts a raw column value to an index key. Every integer width is
// accepted because deserialized payloads carry whatever width the codec
// chose for the value.
func KeyOf(v any) (Key, error) {
	switch t := v.(type) {
	case Key:
		return t, nil
	case int:
		return IntKey(t), nil
	case int8:
		return IntKey(t), nil
	case int16:
		return IntKey(t), nil
	case int32:
		return IntKey(t), nil
	case int64:
		return IntKey(t), nil
	case uint:
		return IntKey(t), nil
	case uint8:
		return IntKey(t), nil
	case uint16:
		return IntKey(t), nil
	case uint32:
		return IntKey(t), nil
	case uint64:
		return IntKey(t), nil
	case string:
		return StringKey(t), nil
	default:
		return nil, fmt.Errorf("unsupported index key type %T", v)
	}
}
