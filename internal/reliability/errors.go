package reliability

import "errors"

// ErrMaxAttemptsExceeded is returned by callers that track their own
// attempt count against a Policy and choose to give up.
var ErrMaxAttemptsExceeded = errors.New("reliability: maximum attempts exceeded")
