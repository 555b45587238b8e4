package httpclient

import "errors"

var (
	// ErrNoURL is returned for a nil request or one without a URL.
	ErrNoURL = errors.New("request url is required")
	// ErrAborted is the cause attached to responses of aborted requests.
	ErrAborted = errors.New("request aborted")
	// ErrUnsupportedBody is the cause when a body cannot be encoded for its content type.
	ErrUnsupportedBody = errors.New("unsupported request body")
	// ErrBodyTooLarge is the cause when a decoded response body exceeds the transport's cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// IsAborted reports whether err is the rejection of an aborted request.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
