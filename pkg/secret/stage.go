package secret

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is an application-assigned version number.
type Stage int

const (
	// FirstStage is assigned when a secret is created.
	FirstStage Stage = 1

	// NewestStage means "whatever the store currently serves" and skips stage
	// reconciliation for the secret.
	NewestStage Stage = -1
)

// stageWidth is the zero-padded width of the number in a stage label.
const stageWidth = 3

// Number returns the version number.
func (s Stage) Number() int { return int(s) }

// Next returns the stage after s.
func (s Stage) Next() Stage { return s + 1 }

// IsNewest reports whether s is the NewestStage sentinel.
func (s Stage) IsNewest() bool { return s == NewestStage }

// Compare orders stages by version number.
func (s Stage) Compare(other Stage) int {
	switch {
	case s < other:
		return -1
	case s > other:
		return 1
	default:
		return 0
	}
}

// StageLabel serializes s as "<StagePrefix><number padded to 3 digits>".
func (n Naming) StageLabel(s Stage) string {
	return fmt.Sprintf("%s%0*d", n.StagePrefix, stageWidth, int(s))
}

// TryParseStage parses one of our stage labels. Labels without the stage
// prefix, or with anything but ASCII digits after it, yield false.
func (n Naming) TryParseStage(label string) (Stage, bool) {
	if n.StagePrefix == "" || !strings.HasPrefix(label, n.StagePrefix) {
		return 0, false
	}
	digits := strings.TrimPrefix(label, n.StagePrefix)
	if digits == "" || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, false
	}
	number, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return Stage(number), true
}

// ParseStage is TryParseStage returning a StageLabelError on no match.
func (n Naming) ParseStage(label string) (Stage, error) {
	s, ok := n.TryParseStage(label)
	if !ok {
		return 0, StageLabelError{Label: label, Prefix: n.StagePrefix}
	}
	return s, nil
}

// FindFirstStage returns the first label, in the order given, that parses as
// one of our stages. Callers pass labels in the store's native order; the
// first match wins even when a later label carries a higher number.
func (n Naming) FindFirstStage(labels []string) (Stage, bool) {
	for _, label := range labels {
		if s, ok := n.TryParseStage(label); ok {
			return s, true
		}
	}
	return 0, false
}
