package order

import "errors"

// ErrInvalidArgument is returned (wrapped) by NewOrderRequest.Validate when a
// request is malformed: empty client id, an over-length field, a negative or
// non-finite quantity/price (spec.md §7 INVALID_ARGUMENT).
var ErrInvalidArgument = errors.New("order: invalid argument")
