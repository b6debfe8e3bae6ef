package colmena

import (
	"encoding/json"
	"fmt"
	"math"
)

// ParamKind identifies the shape of a parameter value.
type ParamKind int

const (
	// KindScalar is a single numeric value.
	KindScalar ParamKind = iota
	// KindVector is a one-dimensional numeric array.
	KindVector
	// KindMatrix is a two-dimensional numeric array.
	KindMatrix
)

func (k ParamKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindMatrix:
		return "matrix"
	default:
		return "unknown"
	}
}

// ParamValue is a tagged variant holding one model parameter: a scalar,
// a numeric vector, or a numeric matrix. Aggregation strategies match
// on Kind instead of probing dynamic types at runtime.
type ParamValue struct {
	Kind   ParamKind
	Scalar float64
	Vector []float64
	Matrix [][]float64
}

// ScalarParam creates a scalar parameter.
func ScalarParam(v float64) ParamValue {
	return ParamValue{Kind: KindScalar, Scalar: v}
}

// VectorParam creates a vector parameter.
func VectorParam(v []float64) ParamValue {
	return ParamValue{Kind: KindVector, Vector: v}
}

// MatrixParam creates a matrix parameter.
func MatrixParam(v [][]float64) ParamValue {
	return ParamValue{Kind: KindMatrix, Matrix: v}
}

// Clone returns a deep copy of the value.
func (p ParamValue) Clone() ParamValue {
	switch p.Kind {
	case KindVector:
		vec := make([]float64, len(p.Vector))
		copy(vec, p.Vector)
		return ParamValue{Kind: KindVector, Vector: vec}
	case KindMatrix:
		mat := make([][]float64, len(p.Matrix))
		for i, row := range p.Matrix {
			mat[i] = make([]float64, len(row))
			copy(mat[i], row)
		}
		return ParamValue{Kind: KindMatrix, Matrix: mat}
	default:
		return p
	}
}

// Finite reports whether every element of the value is a finite number.
func (p ParamValue) Finite() bool {
	switch p.Kind {
	case KindScalar:
		return !math.IsNaN(p.Scalar) && !math.IsInf(p.Scalar, 0)
	case KindVector:
		for _, v := range p.Vector {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		return true
	case KindMatrix:
		for _, row := range p.Matrix {
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the value as a plain JSON number, array, or
// nested array so the wire format stays interoperable with clients
// that send untagged parameters.
func (p ParamValue) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindScalar:
		return json.Marshal(p.Scalar)
	case KindVector:
		if p.Vector == nil {
			return json.Marshal([]float64{})
		}
		return json.Marshal(p.Vector)
	case KindMatrix:
		if p.Matrix == nil {
			return json.Marshal([][]float64{})
		}
		return json.Marshal(p.Matrix)
	default:
		return nil, fmt.Errorf("unknown parameter kind: %d", p.Kind)
	}
}

// UnmarshalJSON decodes a plain number, array, or nested array into the
// tagged variant. Shape probing happens once here, at the boundary.
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		*p = ScalarParam(scalar)
		return nil
	}

	var vector []float64
	if err := json.Unmarshal(data, &vector); err == nil {
		*p = VectorParam(vector)
		return nil
	}

	var matrix [][]float64
	if err := json.Unmarshal(data, &matrix); err == nil {
		*p = MatrixParam(matrix)
		return nil
	}

	return fmt.Errorf("parameter is not a number, numeric vector, or numeric matrix")
}

// ParamMap maps parameter names to values. It is the only form in which
// model internals cross the contributor boundary.
type ParamMap map[string]ParamValue

// Clone returns a deep copy of the map.
func (m ParamMap) Clone() ParamMap {
	out := make(ParamMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}
