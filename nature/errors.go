package nature

import "github.com/pkg/errors"

var errUnsupportedKind = errors.New("nature: unsupported swap kind")
