package command

import "errors"

// ErrInvalidArgument is returned by constructors when a value is outside
// the range the device accepts. Use errors.Is() to check for it.
var ErrInvalidArgument = errors.New("command: invalid argument")
