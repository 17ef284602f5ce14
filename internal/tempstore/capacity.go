package tempstore

import "github.com/pkg/errors"

var errCapacityUnsupported = errors.New("free space check is not supported on this platform")
