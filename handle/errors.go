package handle

import "errors"

func isPathNotFound(err error, target any) bool {
	return errors.As(err, target)
}
