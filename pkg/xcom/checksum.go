package xcom

// Checksum computes the two byte Fletcher-like checksum used for headers and frames.
// A starts at 0xFF, B at 0x00, both are summed modulo 256.
func Checksum(b []byte) [2]byte {
	a, c := byte(0xFF), byte(0x00)
	for _, d := range b {
		a += d
		c += a
	}
	return [2]byte{a, c}
}

func validChecksum(data []byte, sum []byte) bool {
	if len(sum) != 2 {
		return false
	}
	c := Checksum(data)
	return c[0] == sum[0] && c[1] == sum[1]
}
