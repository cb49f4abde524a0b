package experience

import "errors"

var (
	// ErrConfigNotFound means the experience does not exist in the catalog.
	ErrConfigNotFound = errors.New("experience not found")

	// ErrInvalidID means the identifier is malformed.
	ErrInvalidID = errors.New("invalid experience id")

	// ErrResourceLoad means the experience definition could not be loaded.
	ErrResourceLoad = errors.New("experience resource load failed")

	// ErrModuleActivation means at least one feature module failed to activate.
	ErrModuleActivation = errors.New("feature module activation failed")

	// ErrNotAuthority means a write was attempted on a non-authoritative member.
	ErrNotAuthority = errors.New("not the authoritative session")
)
