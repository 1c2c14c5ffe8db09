package model

import "strconv"

// FormatVolume renders v with comma thousands separators, e.g. 1,234,567.
func FormatVolume(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := v < 0
	if neg {
		s = s[1:]
	}
	n := len(s)
	if n <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	out := make([]byte, 0, n+n/3+1)
	if neg {
		out = append(out, '-')
	}
	lead := n % 3
	if lead == 0 {
		lead = 3
	}
	out = append(out, s[:lead]...)
	for i := lead; i < n; i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
