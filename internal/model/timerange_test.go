package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeRange_Overlaps(t *testing.T) {
	existing := TimeRange{Start: at(10, 0), End: at(10, 30)}

	tests := []struct {
		name      string
		candidate TimeRange
		want      bool
	}{
		{"straddles end", TimeRange{Start: at(10, 15), End: at(10, 45)}, true},
		{"identical", existing, true},
		{"contains", TimeRange{Start: at(9, 30), End: at(11, 0)}, true},
		{"starts at end", TimeRange{Start: at(10, 30), End: at(11, 0)}, false},
		{"ends at start", TimeRange{Start: at(9, 30), End: at(10, 0)}, false},
		{"disjoint", TimeRange{Start: at(12, 0), End: at(13, 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, existing.Overlaps(tt.candidate))
			assert.Equal(t, tt.want, tt.candidate.Overlaps(existing))
		})
	}
}

func TestOnHalfHour(t *testing.T) {
	assert.True(t, OnHalfHour(at(0, 0)))
	assert.True(t, OnHalfHour(at(23, 30)))
	assert.False(t, OnHalfHour(at(10, 1)))
	assert.False(t, OnHalfHour(at(10, 30).Add(time.Millisecond)))
}
