package corr

import (
	"time"

	"github.com/golang/glog"
)

// Sweep is the periodic maintenance of the store. It abandons the non
// terminal exchanges which haven't moved during staleAfter, and retires the
// terminal exchanges older than retireAfter. Zero duration disables the
// phase. It returns the counts of both.
func (s *Store) Sweep(staleAfter, retireAfter time.Duration) (abandoned, retired int) {
	now := s.clock.Now()
	for _, ex := range s.Active() {
		age := now.Sub(ex.Timestamp())
		switch {
		case !ex.IsReady() && staleAfter > 0 && age > staleAfter:
			if s.Abandon(ex.CorrelationID, "stale") {
				abandoned++
			}
		case ex.IsReady() && retireAfter > 0 && age > retireAfter:
			if err := s.Retire(ex.CorrelationID); err != nil {
				glog.Warningln("sweep:", err)
				continue
			}
			retired++
		}
	}
	if abandoned+retired > 0 {
		glog.V(1).Infof("sweep: %d abandoned, %d retired", abandoned, retired)
	}
	return abandoned, retired
}
