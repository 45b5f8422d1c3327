//go:build !gcp

package artifacts

import (
	"context"
	"errors"
)

// errGCSDisabled is returned by builds without the gcp tag, which leave the
// Cloud Storage client out of the binary.
var errGCSDisabled = errors.New("artifacts: gcs backend requires a build with -tags gcp")

func newGCSStore(context.Context, Config) (Store, error) {
	return nil, errGCSDisabled
}
