package detector

import (
	"fmt"

	"github.com/kursadbilgin/flight-watch/internal/domain"
)

const (
	// DelayThresholdMinutes is the smallest delay movement worth announcing.
	DelayThresholdMinutes = 15
	// BucketMinutes is the width of the delay buckets used in fingerprints.
	BucketMinutes = 15
)

// Classify compares two consecutive polls of the same flight.
// Rules apply in priority order: cancellation, delay, location, no change.
func Classify(previous *domain.CanonicalStatus, current domain.CanonicalStatus) domain.Change {
	change := domain.Change{Kind: domain.ChangeNone, Previous: previous, Current: current}

	if current.Cancelled {
		if previous == nil || !previous.Cancelled {
			change.Kind = domain.ChangeCancellation
		}
		return change
	}

	if delayChanged(previous, current) {
		change.Kind = domain.ChangeDelay
		return change
	}

	if previous != nil && locationChanged(*previous, current) {
		change.Kind = domain.ChangeLocation
	}

	return change
}

// Fingerprint summarizes the situation a change announces for the dedup ledger: delay
// bucket plus terminal and gate. A delay announced at one gate is announced again after a
// gate move, since recipients last heard about a different situation.
func Fingerprint(change domain.Change) string {
	switch change.Kind {
	case domain.ChangeCancellation:
		return string(domain.ChangeCancellation)
	case domain.ChangeDelay, domain.ChangeLocation:
		return fmt.Sprintf("%s:%d:%s/%s",
			change.Kind,
			DelayBucket(change.Current.DelayMinutes),
			change.Current.NormalizedTerminal(),
			change.Current.NormalizedGate(),
		)
	default:
		return ""
	}
}

// Key returns the ledger key of a reportable change.
func Key(change domain.Change) domain.EventKey {
	return domain.EventKey{Kind: change.Kind, Fingerprint: Fingerprint(change)}
}

// DelayBucket floors minutes into 15-minute buckets; early departures land in negative buckets.
func DelayBucket(minutes int) int {
	if minutes >= 0 {
		return minutes / BucketMinutes
	}
	return -((-minutes + BucketMinutes - 1) / BucketMinutes)
}

func delayChanged(previous *domain.CanonicalStatus, current domain.CanonicalStatus) bool {
	if previous == nil {
		return current.DelayMinutes >= DelayThresholdMinutes
	}

	if abs(current.DelayMinutes-previous.DelayMinutes) >= DelayThresholdMinutes {
		return true
	}

	// A smaller move still counts once it lands in another bucket past the threshold.
	return DelayBucket(current.DelayMinutes) != DelayBucket(previous.DelayMinutes) &&
		max(abs(current.DelayMinutes), abs(previous.DelayMinutes)) >= DelayThresholdMinutes
}

func locationChanged(previous, current domain.CanonicalStatus) bool {
	if t := current.NormalizedTerminal(); t != "" && t != previous.NormalizedTerminal() {
		return true
	}
	if g := current.NormalizedGate(); g != "" && g != previous.NormalizedGate() {
		return true
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
