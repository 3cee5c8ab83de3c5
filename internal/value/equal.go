package value

import "math"

// Equal reports structural equality. Maps compare as unordered pair sets,
// arrays compare positionally, and a Go nil is treated as Nil.
func Equal(a, b Value) bool {
	a, b = orNil(a), orNil(b)
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Nil:
		return true
	case Bool:
		return av == b.(Bool)
	case Number:
		bv := b.(Number)
		if math.IsNaN(float64(av)) && math.IsNaN(float64(bv)) {
			return true
		}
		return av == bv
	case String:
		return av == b.(String)
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		return mapsEqual(av, b.(Map))
	case Opaque:
		return av.TypeName == b.(Opaque).TypeName
	default:
		return false
	}
}

func mapsEqual(a, b Map) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, pa := range a {
		found := false
		for j, pb := range b {
			if used[j] {
				continue
			}
			if Equal(pa.Key, pb.Key) && Equal(pa.Val, pb.Val) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
