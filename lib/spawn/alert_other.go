//go:build !windows

package spawn

import (
	"fmt"
	"os"
)

// Alert surfaces a fatal runner error to the user.
func Alert(title, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
}
