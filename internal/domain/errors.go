package domain

import "errors"

// KindCarrier is implemented by adapter errors that carry a taxonomy
// classification across package boundaries.
type KindCarrier interface {
	ErrorKind() ErrorKind
}

// KindOfError extracts the classification from anywhere in err's chain, or
// ErrorKindAPIError when the error was never classified.
func KindOfError(err error) ErrorKind {
	var kc KindCarrier
	if errors.As(err, &kc) {
		return kc.ErrorKind()
	}
	return ErrorKindAPIError
}
