package manager

import "errors"

// Validation and partial-failure sentinels. Registry and probe errors
// (duplicate name, not found, lock timeout, corruption, no free port)
// come from their own packages; everything is matched with errors.Is.
var (
	// ErrLocalServiceUnreachable means nothing is listening on the
	// local port the tunnel should expose. Create fails fast with this
	// unless the caller forces creation.
	ErrLocalServiceUnreachable = errors.New("local service is not reachable; start your service first or pass --force")

	// ErrGatewayPortBusy means an explicitly requested gateway port is
	// already bound or promised to another tunnel.
	ErrGatewayPortBusy = errors.New("requested gateway port is not free")

	// ErrPublicExposureTimeout means the public helper did not report a
	// URL within the configured timeout. The local forward keeps
	// running; the tunnel is degraded, not failed.
	ErrPublicExposureTimeout = errors.New("timed out waiting for the public exposure URL")

	// ErrForwarderNotRunning means an operation needs the local
	// forwarder alive and it is not.
	ErrForwarderNotRunning = errors.New("local forwarder is not running; restart the tunnel first")

	// ErrStoppedDuringCreate means a concurrent invocation stopped or
	// purged the tunnel while create was still bringing it up. The stop
	// wins: whatever create spawned has been torn down.
	ErrStoppedDuringCreate = errors.New("tunnel was stopped while being created")
)
