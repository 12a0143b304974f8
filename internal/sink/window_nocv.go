//go:build !with_cv
// +build !with_cv

package sink

import (
	"fmt"

	"github.com/andresmejia3/vidproc/internal/types"
)

// NewWindow needs OpenCV; rebuild with -tags with_cv.
func NewWindow(title string, width, height int) (Surface, error) {
	return nil, fmt.Errorf("%w: display window requires a build with -tags with_cv", types.ErrUnsupported)
}
