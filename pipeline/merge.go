package pipeline

import "github.com/eb-adutwum/Interius/stage"

// MergeFiles folds a stage's generated files into the run's file set using
// union-with-tombstone semantics: a path present in incoming overwrites the
// prior version, a path absent from incoming survives untouched, and a path
// is removed only by an explicit Deleted tombstone. The tombstone itself is
// retained so the deletion survives later merges.
func MergeFiles(current map[string]stage.CodeFile, incoming []stage.CodeFile) map[string]stage.CodeFile {
	merged := make(map[string]stage.CodeFile, len(current)+len(incoming))
	for path, f := range current {
		merged[path] = f
	}
	for _, f := range incoming {
		if f.Deleted {
			merged[f.Path] = stage.CodeFile{Path: f.Path, Deleted: true}
			continue
		}
		merged[f.Path] = f
	}
	return merged
}
