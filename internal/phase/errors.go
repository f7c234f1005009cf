package phase

import "errors"

var (
	// ErrToolMissing is returned by a ToolRunner when the binary is not installed.
	ErrToolMissing = errors.New("external tool not found")

	// ErrRequiredTool is returned by a phase when a tool marked required in
	// the settings file is missing. It aborts the run.
	ErrRequiredTool = errors.New("required external tool not available")

	// ErrNXDomain is returned by a Resolver when the name does not exist.
	ErrNXDomain = errors.New("no such domain")

	// ErrUnexpectedStatus is returned when an API answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)
