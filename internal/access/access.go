package access

import (
	"errors"
	"fmt"
)

var ErrForbidden = errors.New("caller not permitted")

// Policy holds the identities operations may demand of their caller.
type Policy struct {
	Self string
}

// RequireSelf permits only the contract acting as its own caller.
// Continuation steps and the restricted shipping read use this to stay
// unreachable from outside the process.
func (p Policy) RequireSelf(caller string) error {
	if caller != p.Self {
		return fmt.Errorf("%w: caller %q is not %q", ErrForbidden, caller, p.Self)
	}
	return nil
}
