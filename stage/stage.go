package stage

// Name identifies a pipeline stage.
type Name string

// The four pipeline stages, in execution order.
const (
	Requirements Name = "requirements"
	Architecture Name = "architecture"
	Implementer  Name = "implementer"
	Reviewer     Name = "reviewer"
)

// Order is the canonical execution order of the pipeline stages.
var Order = []Name{Requirements, Architecture, Implementer, Reviewer}

// IsValid reports whether n is one of the known pipeline stages.
func (n Name) IsValid() bool {
	switch n {
	case Requirements, Architecture, Implementer, Reviewer:
		return true
	}
	return false
}

// Index returns the position of the stage in the canonical order,
// or -1 for an unknown stage.
func (n Name) Index() int {
	for i, s := range Order {
		if s == n {
			return i
		}
	}
	return -1
}

// After reports whether n comes after other in the canonical order.
func (n Name) After(other Name) bool {
	return n.Index() > other.Index()
}
