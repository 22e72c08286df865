package components

// Velocity is an inline-value component.
type Velocity struct {
	DX, DY float64
}
