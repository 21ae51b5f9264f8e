package notary

import (
	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/transaction"
)

// TimeWindowChecker validates time windows against a clock.
type TimeWindowChecker struct {
	Clock common.Clock
}

// IsValid reports whether the current time falls within tw. A nil window is
// always valid.
func (c TimeWindowChecker) IsValid(tw *transaction.TimeWindow) bool {
	if tw == nil {
		return true
	}
	return tw.Contains(c.Clock.Now())
}
