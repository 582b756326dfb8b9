package plugin

import "errors"

var (
	// ErrDiscoveryAbort reports a discovery pass that failed as a whole.
	ErrDiscoveryAbort = errors.New("plugin: discovery aborted")
	// ErrDuplicateCommand reports a name collision under DuplicateFail.
	ErrDuplicateCommand = errors.New("plugin: duplicate command")
	// ErrNoCommand reports a plugin file without any command-shaped export.
	ErrNoCommand = errors.New("plugin: no command export")
	// ErrSynthesis reports stored text that did not yield an executable unit.
	ErrSynthesis = errors.New("plugin: synthesis failed")
	// ErrInvalidDescriptor reports a descriptor that fails validation.
	ErrInvalidDescriptor = errors.New("plugin: invalid descriptor")
)
