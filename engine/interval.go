package engine

// EpochInterval maps an epoch to one of two policy values depending on
// whether it falls inside the inclusive [First, Last] range. Either bound may
// be nil (unbounded on that side), but not both.
type EpochInterval struct {
	First   *int
	Last    *int
	Inside  bool
	Outside bool
}

// Validate rejects an interval with both bounds unset. It runs at engine
// construction so a bad policy never reaches the first epoch.
func (iv *EpochInterval) Validate() error {
	if iv.First == nil && iv.Last == nil {
		return ErrBadInterval
	}
	return nil
}

// Value returns Outside for epochs strictly before First or strictly after
// Last, and Inside otherwise. The interval must have been validated.
func (iv *EpochInterval) Value(epoch int) bool {
	if iv.First != nil && epoch < *iv.First {
		return iv.Outside
	}
	if iv.Last != nil && epoch > *iv.Last {
		return iv.Outside
	}
	return iv.Inside
}
