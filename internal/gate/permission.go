package gate

// Wildcard grants every capability.
const Wildcard = "*"

// HasPermission reports whether key holds capability, either explicitly or through the wildcard.
// Capabilities are compared as opaque strings; there is no prefix or hierarchy matching.
func HasPermission(key *Key, capability string) bool {
	if key == nil {
		return false
	}
	for _, p := range key.Permissions {
		if p == Wildcard || p == capability {
			return true
		}
	}
	return false
}
