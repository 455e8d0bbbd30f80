package interius

import "github.com/eb-adutwum/Interius/id"

// ID is the primary identifier type for all Interius entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
