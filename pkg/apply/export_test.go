package apply

// Test-only bridge so the external apply_test package (kept external to
// avoid an import cycle through pkg/output) can reach statusOf.

var StatusOf = statusOf

func (s vertexStatus) Alive() bool { return s.alive() }
func (s vertexStatus) Dead() bool  { return s.dead() }
