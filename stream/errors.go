package stream

import "errors"

var (
	ErrForbidden = errors.New("playlist access forbidden")
	ErrNotFound  = errors.New("playlist not found (404)")
	ErrEnded     = errors.New("playlist has ended (EXT-X-ENDLIST)")
)
