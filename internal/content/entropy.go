package content

import "math"

// ShannonEntropy returns the entropy of s in bits per byte. Uniformly
// random bytes approach 8; natural language sits near 4; base64 or
// encrypted blobs typically land between 5.5 and 6.5 for mixed content
// and above 7 for dense random data.
func ShannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	total := float64(len(s))
	entropy := 0.0
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
