package colmena

import (
	"crypto/rand"
	"math"
)

// NoiseInjector perturbs aggregated numeric parameters with Laplace
// noise of scale 1/epsilon: one independent draw per scalar, per vector
// element, and per matrix cell.
//
// The sensitivity is not calibrated to the true value ranges, so the
// perturbation is epsilon-shaped re-identification hardening, not
// certified differential privacy.
type NoiseInjector struct {
	epsilon float64
}

// NewNoiseInjector creates an injector. Non-positive epsilon falls back
// to the default of 1.0.
func NewNoiseInjector(epsilon float64) *NoiseInjector {
	if epsilon <= 0 {
		epsilon = 1.0
	}
	return &NoiseInjector{epsilon: epsilon}
}

// Apply returns a noised deep copy of the parameter map. The input is
// never modified; aggregation remains all-or-nothing for the caller.
func (n *NoiseInjector) Apply(params ParamMap) ParamMap {
	scale := 1.0 / n.epsilon

	out := make(ParamMap, len(params))
	for key, value := range params {
		switch value.Kind {
		case KindScalar:
			out[key] = ScalarParam(value.Scalar + laplaceSample(scale))
		case KindVector:
			vec := make([]float64, len(value.Vector))
			for i, v := range value.Vector {
				vec[i] = v + laplaceSample(scale)
			}
			out[key] = VectorParam(vec)
		case KindMatrix:
			mat := make([][]float64, len(value.Matrix))
			for i, row := range value.Matrix {
				mat[i] = make([]float64, len(row))
				for j, v := range row {
					mat[i][j] = v + laplaceSample(scale)
				}
			}
			out[key] = MatrixParam(mat)
		default:
			out[key] = value.Clone()
		}
	}
	return out
}

// localNoiseRatio is the relative standard deviation of the
// contributor-side Gaussian pass.
const localNoiseRatio = 0.01

// applyLocalNoise perturbs parameters on the contributor side before
// transmission. This is a separate layer from server-side injection:
// scalars get Gaussian noise relative to their own magnitude, vectors
// and matrices relative to their standard deviation.
func applyLocalNoise(params ParamMap) ParamMap {
	out := make(ParamMap, len(params))
	for key, value := range params {
		switch value.Kind {
		case KindScalar:
			sigma := math.Abs(value.Scalar) * localNoiseRatio
			out[key] = ScalarParam(value.Scalar + gaussianSample(sigma))
		case KindVector:
			sigma := stddev(value.Vector) * localNoiseRatio
			vec := make([]float64, len(value.Vector))
			for i, v := range value.Vector {
				vec[i] = v + gaussianSample(sigma)
			}
			out[key] = VectorParam(vec)
		case KindMatrix:
			flat := make([]float64, 0, len(value.Matrix)*4)
			for _, row := range value.Matrix {
				flat = append(flat, row...)
			}
			sigma := stddev(flat) * localNoiseRatio
			mat := make([][]float64, len(value.Matrix))
			for i, row := range value.Matrix {
				mat[i] = make([]float64, len(row))
				for j, v := range row {
					mat[i][j] = v + gaussianSample(sigma)
				}
			}
			out[key] = MatrixParam(mat)
		default:
			out[key] = value.Clone()
		}
	}
	return out
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// --- Noise generation functions ---

func laplaceSample(scale float64) float64 {
	// Inverse CDF over a uniform draw.
	u := uniformSample() - 0.5
	if u == 0 {
		return 0
	}
	sign := 1.0
	if u < 0 {
		sign = -1.0
		u = -u
	}
	return -sign * scale * math.Log(1-2*u)
}

func gaussianSample(sigma float64) float64 {
	// Box-Muller transform.
	u1 := uniformSample()
	u2 := uniformSample()
	if u1 == 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	return sigma * math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func uniformSample() float64 {
	var buf [8]byte
	rand.Read(buf[:])
	val := float64(buf[0])
	for i := 1; i < 8; i++ {
		val = val*256 + float64(buf[i])
	}
	return val / (1 << 64)
}
