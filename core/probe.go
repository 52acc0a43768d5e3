package core

// Capability probing. A probe function applies one setting and reports
// whether the driver accepted it.

// ProbeMinSpeed finds the lowest accepted bus speed: starting at 1 kHz it
// tries x1, x2, x5 and x10 of each decade below 1 MHz. 1 MHz is returned
// when nothing lower is accepted.
func ProbeMinSpeed(accept func(hz uint32) bool) uint32 {
	bs := uint32(1000)
	for {
		for _, m := range []uint32{1, 2, 5, 10} {
			if accept(bs * m) {
				return bs * m
			}
		}
		bs *= 10
		if bs >= 1000000 {
			return bs
		}
	}
}

// ProbeMaxSpeed finds the highest accepted bus speed: starting at 100 MHz
// it tries /1, /2, /5 and /10 of each decade above 1 MHz. 1 MHz is returned
// when nothing higher is accepted.
func ProbeMaxSpeed(accept func(hz uint32) bool) uint32 {
	bs := uint32(100000000)
	for {
		for _, d := range []uint32{1, 2, 5, 10} {
			if accept(bs / d) {
				return bs / d
			}
		}
		bs /= 10
		if bs <= 1000000 {
			return bs
		}
	}
}

// ProbeMaxBaud checks power of ten baud rates from 100 MBd down, with their
// halves and fifths, and returns the first accepted one. The search stops
// at 10 kBd.
func ProbeMaxBaud(accept func(baud uint32) bool) uint32 {
	br := uint32(100000000)
	for {
		if accept(br) {
			return br
		}
		if accept(br / 2) {
			return br / 2
		}
		if accept(br / 5) {
			return br / 5
		}
		br /= 10
		if accept(br) {
			return br
		}
		if br <= 10000 {
			return br
		}
	}
}

// StandardBaudrates are the table entries GET CAP reports from
var StandardBaudrates = []uint32{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// ProbeBaudRange returns the lowest and highest accepted table entry. When
// no entry is accepted min is the last and max the first entry.
func ProbeBaudRange(table []uint32, accept func(baud uint32) bool) (min, max uint32) {
	i := 0
	for i < len(table) && !accept(table[i]) {
		i++
	}
	if i == len(table) {
		i--
	}
	min = table[i]

	j := len(table) - 1
	for j >= 0 && !accept(table[j]) {
		j--
	}
	if j < 0 {
		j = 0
	}
	max = table[j]
	return min, max
}

// ProbeMask sets bit i for every i in [0, n) that is accepted
func ProbeMask(n int, accept func(i int) bool) uint32 {
	var mask uint32
	for i := 0; i < n; i++ {
		if accept(i) {
			mask |= 1 << i
		}
	}
	return mask
}
