package preset

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ptz-panel/internal/ptz"
)

// MaxNameLength is the longest name the camera stores, e.g. "sofa und tv #2222222".
const MaxNameLength = 20

// ValidateName accepts 1 to MaxNameLength characters that are not all whitespace.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: preset name must not be blank", ptz.ErrValidation)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("%w: preset name is %d characters, max %d", ptz.ErrValidation, n, MaxNameLength)
	}
	return nil
}
