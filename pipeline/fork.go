package pipeline

// ShouldFork decides, once at run start, whether a new request against an
// existing build must begin a fresh run identity instead of mutating the
// prior run in place. Forking keeps the two runs' event histories separate.
func ShouldFork(prior *Run, hasPriorCompletedRun bool) bool {
	if prior == nil {
		return false
	}
	return hasPriorCompletedRun && prior.Status == StatusCompleted
}
