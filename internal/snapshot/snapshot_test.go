package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/logging"
	"github.com/reillywatson/velocitystats/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDatesMonthly(t *testing.T) {
	dates, err := Dates(time.Date(2023, time.November, 15, 9, 0, 0, 0, time.UTC), date(2024, time.February, 1), config.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2023, time.November, 1),
		date(2023, time.December, 1),
		date(2024, time.January, 1),
	}, dates)
}

func TestDatesQuarterly(t *testing.T) {
	dates, err := Dates(date(2023, time.November, 15), date(2024, time.August, 2), config.FrequencyQuarterly)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2023, time.November, 1),
		date(2024, time.February, 1),
		date(2024, time.May, 1),
		date(2024, time.August, 1),
	}, dates)
}

func TestDatesUnknownFrequency(t *testing.T) {
	_, err := Dates(date(2024, 1, 1), date(2024, 6, 1), "weekly")
	assert.ErrorIs(t, err, ErrUnknownFrequency)
}

func TestNewestAtOrBefore(t *testing.T) {
	history := []Commit{
		{Hash: "c3", When: date(2024, 3, 10)},
		{Hash: "c2", When: date(2024, 2, 1)},
		{Hash: "c1", When: date(2024, 1, 5)},
	}

	c, ok := NewestAtOrBefore(history, date(2024, 2, 1))
	require.True(t, ok)
	assert.Equal(t, "c2", c.Hash)

	c, ok = NewestAtOrBefore(history, date(2024, 3, 1))
	require.True(t, ok)
	assert.Equal(t, "c2", c.Hash)

	_, ok = NewestAtOrBefore(history, date(2024, 1, 1))
	assert.False(t, ok)
}

type fakeCheckout struct {
	history []Commit
	moves   []string
	closed  bool
}

func (f *fakeCheckout) Path() string { return "/checkout" }

func (f *fakeCheckout) CheckoutAt(at time.Time) (string, error) {
	c, ok := NewestAtOrBefore(f.history, at)
	if !ok {
		return "", ErrNoCommit
	}
	f.moves = append(f.moves, c.Hash)
	return c.Hash, nil
}

func (f *fakeCheckout) Close() { f.closed = true }

type fakeMeasurer struct {
	keys []string
	err  error
}

func (f *fakeMeasurer) Measure(_ context.Context, dir, key string) (map[string]string, error) {
	f.keys = append(f.keys, dir+"|"+key)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]string{"code_smells": "3"}, nil
}

func TestRunnerRun(t *testing.T) {
	checkout := &fakeCheckout{history: []Commit{
		{Hash: "c2", When: date(2024, 2, 15)},
		{Hash: "c1", When: date(2024, 1, 15)},
	}}
	measurer := &fakeMeasurer{}
	repo := config.Repository{Owner: "o", Name: "r"}

	runner := NewRunner(func(config.Repository) (Checkout, error) { return checkout, nil }, measurer,
		config.SonarConfig{Frequency: config.FrequencyMonthly, ProjectKeyPrefix: "pfx"}, logging.Discard())

	got, err := runner.Run(context.Background(), repo, date(2024, 1, 10), date(2024, 3, 20))
	require.NoError(t, err)

	// January 1st predates the first commit and is skipped.
	require.Len(t, got, 2)
	assert.Equal(t, date(2024, 2, 1), got[0].SnapshotDate)
	assert.Equal(t, "c1", got[0].Commit)
	assert.Equal(t, "c2", got[1].Commit)
	assert.Equal(t, "o/r", got[1].RepoFull)
	assert.Equal(t, "3", got[1].Values["code_smells"])

	assert.Equal(t, []string{"/checkout|pfx:o:r", "/checkout|pfx:o:r"}, measurer.keys)
	assert.True(t, checkout.closed)
}

func TestRunnerMeasureError(t *testing.T) {
	checkout := &fakeCheckout{history: []Commit{{Hash: "c1", When: date(2023, 1, 1)}}}
	boom := errors.New("scanner exploded")

	runner := NewRunner(func(config.Repository) (Checkout, error) { return checkout, nil }, &fakeMeasurer{err: boom},
		config.SonarConfig{Frequency: config.FrequencyMonthly}, logging.Discard())

	_, err := runner.Run(context.Background(), config.Repository{Owner: "o", Name: "r"}, date(2024, 1, 1), date(2024, 3, 1))
	assert.ErrorIs(t, err, boom)
	assert.True(t, checkout.closed)
}

func TestTableAndTidy(t *testing.T) {
	raw := Table([]Measures{{
		RepoFull:     "o/r",
		SnapshotDate: date(2024, 1, 1),
		Commit:       "abc",
		Values:       map[string]string{"code_smells": "10", "sqale_debt_ratio": "0.4"},
	}})
	assert.Equal(t, RawColumns, raw.Columns)
	assert.Equal(t, []string{"o/r", "2024-01-01T00:00:00Z", "abc", "10", "0.4", "", "", "", ""}, raw.Rows[0])

	tidy := Tidy(raw)
	assert.Equal(t, TidyColumns, tidy.Columns)
	assert.Equal(t, []string{"o/r", "2024-01-01T00:00:00Z", "abc", "10", "0.4", "", "", "", ""}, tidy.Rows[0])
}

func TestTidyMissingColumns(t *testing.T) {
	raw := &store.Table{
		Columns: []string{"repo_full", "snapshot_date", "extra", "complexity"},
		Rows: [][]string{
			{"o/r", "2024-01-01T00:00:00+02:00", "x", "5"},
			{"o/r", "not a date", "y", "6"},
		},
	}

	tidy := Tidy(raw)
	assert.Equal(t, []string{"repo_full", "snapshot_date", "complexity"}, tidy.Columns)
	assert.Equal(t, [][]string{
		{"o/r", "2023-12-31T22:00:00Z", "5"},
		{"o/r", "", "6"},
	}, tidy.Rows)
}
