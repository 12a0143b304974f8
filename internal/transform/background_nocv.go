//go:build !with_cv
// +build !with_cv

package transform

import (
	"fmt"

	"github.com/andresmejia3/vidproc/internal/types"
)

func newBackground() (Transform, error) {
	return nil, fmt.Errorf("%w: background segmentation needs OpenCV (rebuild with -tags with_cv)", types.ErrUnsupported)
}
