package access

import (
	"errors"
	"testing"
)

func TestRequireSelf(t *testing.T) {
	p := Policy{Self: "groupbuy.local"}

	if err := p.RequireSelf("groupbuy.local"); err != nil {
		t.Fatalf("self caller rejected: %v", err)
	}

	for _, caller := range []string{"buyer1", "organizer.local", ""} {
		if err := p.RequireSelf(caller); !errors.Is(err, ErrForbidden) {
			t.Fatalf("RequireSelf(%q) = %v, want ErrForbidden", caller, err)
		}
	}
}
