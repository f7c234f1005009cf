package report

import "errors"

// ErrUnknownFormat is returned for a report format no writer handles.
var ErrUnknownFormat = errors.New("unknown report format")
