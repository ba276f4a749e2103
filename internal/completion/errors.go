package completion

import "errors"

// ErrOffline is reported when the connectivity signal says the remote store is unreachable.
var ErrOffline = errors.New("remote store offline")

// TransientSyncError wraps a remote read or write that failed for availability
// reasons. Callers of GetState and SetState never see it; sync and bootstrap
// operations return it so the caller can log and carry on with local data.
type TransientSyncError struct {
	Op  string
	Err error
}

func (e *TransientSyncError) Error() string {
	return "completion " + e.Op + ": " + e.Err.Error()
}

func (e *TransientSyncError) Unwrap() error {
	return e.Err
}
