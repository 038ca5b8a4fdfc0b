// Package hybrid combines dense and sparse query representations with a
// convex weight.
//
// Documents are stored unweighted; only the query side is scaled. For an
// additive dot-product score over dense and sparse dimensions this gives
//
//	score = α·(q_dense·d_dense) + (1-α)·(q_sparse·d_sparse)
//
// Inputs are expected to be normalised to comparable magnitudes beforehand;
// Combine does not renormalise.
package hybrid

import (
	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
)

// DefaultAlpha weighs dense and sparse contributions equally.
const DefaultAlpha = 0.5

// ValidateAlpha reports whether alpha is a usable dense weight.
func ValidateAlpha(alpha float32) error {
	if alpha == 0 {
		return kberrors.Configuration("sparse-only representation not supported: alpha must be greater than 0")
	}
	if !(alpha > 0 && alpha <= 1) {
		return kberrors.Configuration("alpha must be in (0,1], got %v", alpha)
	}
	return nil
}

// Combine scales dense by alpha and every sparse value by 1-alpha. The
// inputs are left untouched. An empty sparse vector contributes nothing.
func Combine(dense []float32, sparse models.SparseVector, alpha float32) ([]float32, models.SparseVector, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, models.SparseVector{}, err
	}
	if len(dense) == 0 {
		return nil, models.SparseVector{}, kberrors.Integration("dense vector is empty")
	}
	if len(sparse.Indices) != len(sparse.Values) {
		return nil, models.SparseVector{}, kberrors.Integration(
			"sparse vector has %d indices but %d values", len(sparse.Indices), len(sparse.Values))
	}

	scaledDense := make([]float32, len(dense))
	for i, v := range dense {
		scaledDense[i] = v * alpha
	}

	scaledSparse := models.SparseVector{
		Indices: append([]uint32{}, sparse.Indices...),
		Values:  make([]float32, len(sparse.Values)),
	}
	for i, v := range sparse.Values {
		scaledSparse.Values[i] = v * (1 - alpha)
	}

	return scaledDense, scaledSparse, nil
}
