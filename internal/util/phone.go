package util

// NormalizePhone reduces a phone number to digits only so blocklist and
// consumer lookups match regardless of formatting ("+1 (555) 010-0000" and
// "15550100000" are the same number).
func NormalizePhone(p string) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] >= '0' && p[i] <= '9' {
			out = append(out, p[i])
		}
	}
	return string(out)
}
