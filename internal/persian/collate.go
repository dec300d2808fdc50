package persian

// Weights are doubled code points so the letters Unicode places out of
// dictionary order can sit between two neighbours.
var letterWeights = map[rune]int{
	'ؤ': 3217, // 1608.5
	'ئ': 3219, // 1609.5
	'پ': 3154, // 1577
	'ة': 3215, // 1607.5
	'ژ': 3173, // 1586.5
	'ک': 3206, // 1603
	'چ': 3161, // 1580.5
	'گ': 3207, // 1603.5
	'ی': 3220, // 1610
}

func weight(r rune) int {
	if w, ok := letterWeights[r]; ok {
		return w
	}
	return int(r) * 2
}

// Compare orders two strings in Persian dictionary order. It walks both
// strings rune by rune; on a shared prefix the shorter string sorts first.
// The result is negative, zero or positive.
func Compare(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	for i := 0; ; i++ {
		switch {
		case i >= len(ra) && i >= len(rb):
			return 0
		case i >= len(ra):
			return -1
		case i >= len(rb):
			return 1
		}
		if d := weight(ra[i]) - weight(rb[i]); d != 0 {
			if d < 0 {
				return -1
			}
			return 1
		}
	}
}
