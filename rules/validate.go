package rules

// allowedIDChars is a precomputed table for O(1) id character validation.
// Ids end up embedded in bucket keys and pub/sub payloads, so the charset
// is restricted to characters that are safe in both.
var allowedIDChars [128]bool

func init() {
	for _, c := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-.@" {
		allowedIDChars[c] = true
	}
}

// validateID validates that an id is at most 64 bytes and contains only
// alphanumeric ASCII, underscore, hyphen, period, and at-sign.
func validateID(what, id string) error {
	if len(id) > 64 {
		return NewInvalidIDError(what, id, "exceeds 64 bytes")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 128 || !allowedIDChars[c] {
			return NewInvalidIDError(what, id, "contains characters outside [A-Za-z0-9_-.@]")
		}
	}
	return nil
}
