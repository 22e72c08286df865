package components

// Health is an inline-value component carrying current and maximum
// hit points; registered with PolicySnapshotable so a debug dump can read
// it without racing a system's exclusive mutation.
type Health struct {
	Current, Max float64
}

// Alive reports whether h has positive current health.
func (h Health) Alive() bool { return h.Current > 0 }
