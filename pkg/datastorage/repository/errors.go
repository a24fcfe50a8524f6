package repository

import (
	sharederrors "github.com/spendmonitor/alertengine/pkg/shared/errors"
)

// errorsFailedTo wraps a repository-layer failure with the shared
// "failed to <action>: <cause>" vocabulary.
func errorsFailedTo(action string, cause error) error {
	return sharederrors.FailedTo(action, cause)
}
