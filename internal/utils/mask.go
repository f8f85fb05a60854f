package utils

// MaskSecret hides all but the first characters of a credential for display.
// Empty stays empty so an unset secret reads as unset.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "*****"
	}
	return s[:2] + "*****"
}
