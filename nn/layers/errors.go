package layers

import "errors"

// ErrType is returned when a layer receives a tensor of the wrong rank.
var ErrType = &TypeError{"input must be a 4-D [batch, channels, height, width] tensor"}

// ErrShape is wrapped by errors caused by incompatible tensor dimensions.
var ErrShape = errors.New("shape mismatch")

type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }
