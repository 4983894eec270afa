package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "03:00", want: TimeOfDay{3, 0}},
		{in: "23:59", want: TimeOfDay{23, 59}},
		{in: "7:05", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestTimeOfDayNext(t *testing.T) {
	at := TimeOfDay{Hour: 3, Minute: 30}
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"earlier same day", time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC)},
		{"exactly at", time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC), time.Date(2024, 5, 2, 3, 30, 0, 0, time.UTC)},
		{"later same day", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 3, 30, 0, 0, time.UTC)},
		{"month end", time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 3, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, at.Next(tt.from))
		})
	}
}

func TestDailyCheck_Trigger(t *testing.T) {
	h := newHarness(t)

	woken := 0
	check := NewDailyCheck(DefaultCheckTime, h.registry, h.store, func() { woken++ }, discardLogger())

	// Nothing registered, nothing to check.
	n, err := check.Trigger(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, woken)

	h.install(taskDefinitions)
	h.run()

	n, err = check.Trigger(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, woken)

	pending, err := h.store.PendingRequests(h.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, req := range pending {
		assert.True(t, req.IsFull())
		assert.False(t, req.ChangesExpected)
	}

	summary := h.run()
	assert.Equal(t, 2, summary.FullRebuilds)
	assert.Zero(t, summary.Alerts)
}
