package utils

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	if d := CalculateBackoff(100*time.Millisecond, 0); d != 0 {
		t.Errorf("attempt 0: got %v", d)
	}
	for attempt := 1; attempt <= 4; attempt++ {
		base := 100 * time.Millisecond * time.Duration(1<<uint(attempt))
		d := CalculateBackoff(100*time.Millisecond, attempt)
		if d < base*3/4 || d > base*5/4 {
			t.Errorf("attempt %d: %v outside jitter range of %v", attempt, d, base)
		}
	}
	if d := CalculateBackoff(time.Second, 40); d > 38*time.Second {
		t.Errorf("cap not applied: %v", d)
	}
}
