package executor

import "errors"

// ErrInvalidJobResult means a module's Run call misbehaved: it returned
// no error but a Result with a zero DeviceID for a real (nonzero-ID)
// input device. An error returned by Run is passed on as it is, whatever
// its type, and does not become ErrInvalidJobResult. Go can't
// express "the module returned nothing" the way a dynamically typed
// source might; this sentinel is the static equivalent, and it is never
// retriable — a module that can't produce a well-formed result won't
// produce one on a second attempt either.
var ErrInvalidJobResult = errors.New("executor: invalid job result")

// ErrCancelled marks a device that was never dispatched because the
// context was already cancelled before its turn came up.
var ErrCancelled = errors.New("executor: job cancelled before dispatch")
