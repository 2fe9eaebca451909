package consultation

import "errors"

// Failure taxonomy for message-store operations. Structural failures are
// terminal for the command that caused them; only ErrConflict is retryable.
var (
	// ErrNotFound: the consultation or message does not exist.
	ErrNotFound = errors.New("consultation not found")
	// ErrForbidden: the acting user is not a participant, or lacks the role
	// the action requires.
	ErrForbidden = errors.New("not a participant of this consultation")
	// ErrInvalidState: the action is not valid for the consultation's
	// current status.
	ErrInvalidState = errors.New("consultation is not in a valid state for this action")
	// ErrLimitExceeded: the message cap is reached; the consultation must be
	// extended before further messages are accepted.
	ErrLimitExceeded = errors.New("message limit reached")
	// ErrConflict: a concurrent writer raced on the same consultation; the
	// operation may be retried as a whole unit.
	ErrConflict = errors.New("concurrent update conflict")
)
