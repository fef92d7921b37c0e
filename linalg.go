package unblending

import "math"

// solveSPDInPlace solves A x = b for a symmetric positive definite A (n*n,
// row-major) by Cholesky factorization. The lower triangle of A is replaced
// by the factor and b by x. It returns false when A is not positive definite.
func solveSPDInPlace(A []float64, b []float64, n int) bool {
	for j := range n {
		rowJ := j * n
		d := A[rowJ+j]
		for k := range j {
			d -= A[rowJ+k] * A[rowJ+k]
		}
		if !(d > 0) {
			return false
		}
		d = math.Sqrt(d)
		A[rowJ+j] = d
		for i := j + 1; i < n; i++ {
			rowI := i * n
			v := A[rowI+j]
			for k := range j {
				v -= A[rowI+k] * A[rowJ+k]
			}
			A[rowI+j] = v / d
		}
	}

	// L y = b
	for i := range n {
		row := i * n
		v := b[i]
		for k := range i {
			v -= A[row+k] * b[k]
		}
		b[i] = v / A[row+i]
	}
	// L^T x = y
	for i := n - 1; i >= 0; i-- {
		v := b[i]
		for k := i + 1; k < n; k++ {
			v -= A[k*n+i] * b[k]
		}
		b[i] = v / A[i*n+i]
	}
	return true
}
