package media

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/dkeye/consult/internal/domain"
)

// classify maps a driver failure onto the media access taxonomy.
func classify(err error) *domain.MediaAccessError {
	var mae *domain.MediaAccessError
	if errors.As(err, &mae) {
		return mae
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return domain.NewMediaAccessError(domain.ErrPermissionDenied, err)
	case strings.Contains(err.Error(), "fits the constraints"):
		// mediadevices reports this, unexported, when no driver mode matches the props.
		return domain.NewMediaAccessError(domain.ErrConstraintsUnsatisfiable, err)
	}
	return domain.NewMediaAccessError(domain.ErrDeviceUnavailable, err)
}
