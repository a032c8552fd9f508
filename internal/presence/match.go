// Package presence turns per-image face matches into presence periods: the
// intervals of the recording where the target person is on screen.
package presence

// DefaultMatchThreshold is the largest normalized distance still counted as the same face.
const DefaultMatchThreshold = 0.09

// Distance returns the squared euclidean distance between a and b, normalized by
// the mean of their squared norms. Mismatched or zero vectors are infinitely far apart.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return maxDistance
	}
	var sub, sumA, sumB float64
	for i := range a {
		d := a[i] - b[i]
		sub += d * d
		sumA += a[i] * a[i]
		sumB += b[i] * b[i]
	}
	add := (sumA + sumB) / 2
	if add == 0 {
		return maxDistance
	}
	return sub / add
}

// Match reports whether two face descriptors belong to the same person.
func Match(a, b []float64, threshold float64) bool {
	return Distance(a, b) <= threshold
}

// maxDistance is returned when two vectors cannot be compared.
const maxDistance = 4.0
