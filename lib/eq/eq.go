/*package eq is a simple package for telling whether two arrays are equal to
one another.*/
package eq

// Generic returns true if two arrays are the same type and have the same
// values and false otherwise. Only []bool, []int, []int64, []float64, and
// []string are supported.
func Generic(x, y interface{}) bool {
	switch xx := x.(type) {
	case []bool:
		yy, ok := y.([]bool)
		if !ok { return false }
		return Bools(xx, yy)
	case []int:
		yy, ok := y.([]int)
		if !ok { return false }
		return Ints(xx, yy)
	case []int64:
		yy, ok := y.([]int64)
		if !ok { return false }
		return Int64s(xx, yy)
	case []float64:
		yy, ok := y.([]float64)
		if !ok { return false }
		return Float64s(xx, yy)
	case []string:
		yy, ok := y.([]string)
		if !ok { return false }
		return Strings(xx, yy)
	default:
		return false
	}
}

// Bools returns true if two []bool arrays are the same and false otherwise.
func Bools(x, y []bool) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Ints returns true if two []int arrays are the same and false otherwise.
func Ints(x, y []int) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Int64s returns true if two []int64 arrays are the same and false otherwise.
func Int64s(x, y []int64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Float64s returns true if two []float64 arrays are the same and false
// otherwise.
func Float64s(x, y []float64) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}

// Strings returns true if two []string arrays are the same and false
// otherwise.
func Strings(x, y []string) bool {
	if len(x) != len(y) { return false }
	for i := range x {
		if x[i] != y[i] { return false }
	}
	return true
}
