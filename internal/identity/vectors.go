package identity

import "math"

// cosineDistance returns 1 - cos(a, b). Inputs need not be normalized; a
// zero vector is maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// averageVector returns the elementwise mean of vs, L2-normalized. Averaging
// before normalizing dilutes any single noisy embedding.
func averageVector(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	out := make([]float32, len(vs[0]))
	for _, v := range vs {
		for i := range out {
			out[i] += v[i]
		}
	}
	n := float32(len(vs))
	for i := range out {
		out[i] /= n
	}
	return l2Normalize(out)
}

// l2Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// pairwiseConsistency returns the average pairwise cosine distance among vs.
// Fewer than two vectors yield 0 — a single sample is trivially consistent
// with itself.
func pairwiseConsistency(vs [][]float32) float64 {
	if len(vs) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(vs); i++ {
		for j := i + 1; j < len(vs); j++ {
			sum += cosineDistance(vs[i], vs[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// clusterVariance measures the spread of a cluster as the mean squared
// Euclidean distance from the centroid, scaled by 100 to a convenient
// magnitude for thresholding.
func clusterVariance(vs [][]float32) float64 {
	if len(vs) < 2 {
		return 0
	}
	dim := len(vs[0])
	centroid := make([]float64, dim)
	for _, v := range vs {
		for i := range centroid {
			centroid[i] += float64(v[i])
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(vs))
	}

	var sum float64
	for _, v := range vs {
		for i := range centroid {
			d := float64(v[i]) - centroid[i]
			sum += d * d
		}
	}
	return sum / float64(len(vs)) * 100
}

// adaptiveThreshold derives a profile's match threshold from its
// self-consistency: tighter profiles demand tighter matches.
func adaptiveThreshold(selfConsistency float64) float64 {
	t := selfConsistency * 3
	if t < 0.20 {
		return 0.20
	}
	if t > 0.50 {
		return 0.50
	}
	return t
}

// equalVectors reports exact elementwise equality, used to keep enrollment
// idempotent when re-run with identical samples.
func equalVectors(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
