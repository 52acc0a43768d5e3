package sockserver

const (
	firstPrintable = 0x21
	lastPrintable  = 0x7e
)

// fillLine fills buf with a rotating run of printable characters ending in
// "\n\r". The run starts one past start; the new start is returned so that
// consecutive lines shift by one character.
func fillLine(buf []byte, start byte) byte {
	start++
	if start < firstPrintable || start > lastPrintable {
		start = firstPrintable
	}
	n := len(buf) - 2
	ch := start
	for i := 0; i < n; i++ {
		buf[i] = ch
		if ch++; ch > lastPrintable {
			ch = firstPrintable
		}
	}
	buf[n] = '\n'
	buf[n+1] = '\r'
	return start
}
