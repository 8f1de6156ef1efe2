package typing

import (
	"fmt"

	"github.com/johndosdos/chatterd/internal/model"
)

// FormatTypingText renders the indicator sentence for users. It returns nil
// when nobody is typing.
func FormatTypingText(users []model.TypingUser) *string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.DisplayName
	}

	var s string
	switch len(names) {
	case 0:
		return nil
	case 1:
		s = names[0] + " is typing..."
	case 2:
		s = names[0] + " and " + names[1] + " are typing..."
	case 3:
		s = names[0] + ", " + names[1] + ", and " + names[2] + " are typing..."
	default:
		s = fmt.Sprintf("%s, %s, and %d others are typing...", names[0], names[1], len(names)-2)
	}
	return &s
}
