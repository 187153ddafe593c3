package carepay

import "github.com/xolani/carepay/id"

// ID is the primary identifier type for all carepay entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
