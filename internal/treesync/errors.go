package treesync

import "errors"

var (
	// structural, abort the pass
	ErrMissingRemoteRoot = errors.New("treesync: remote root missing from fetch")
	ErrRootCreate        = errors.New("treesync: cannot create root directory")

	// invariant violations point at a pairing bug, never expected divergence
	ErrInvariant = errors.New("treesync: invariant violation")
	ErrUnsettled = errors.New("treesync: deferred tasks did not settle")

	// policy
	ErrConflictNotAutomatable = errors.New("treesync: conflict cannot be resolved automatically")

	// returned by LocalStore and RemoteClient implementations
	ErrNotFound = errors.New("treesync: not found")
	ErrExists   = errors.New("treesync: already exists")
)
