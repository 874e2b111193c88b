package servicedate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"transitperf.dev/events/model"
)

func at(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, Eastern)
}

func TestServiceDateBoundary(t *testing.T) {
	for _, tc := range []struct {
		instant time.Time
		want    model.Date
	}{
		{at(2023, 12, 15, 3, 0, 0), model.NewDate(2023, 12, 15)},
		{at(2023, 12, 15, 5, 45, 0), model.NewDate(2023, 12, 15)},
		{at(2023, 12, 15, 7, 15, 0), model.NewDate(2023, 12, 15)},
		{at(2023, 12, 15, 23, 59, 59), model.NewDate(2023, 12, 15)},
		{at(2023, 12, 16, 0, 0, 0), model.NewDate(2023, 12, 15)},
		{at(2023, 12, 16, 2, 59, 59), model.NewDate(2023, 12, 15)},
	} {
		assert.Equal(t, tc.want, ServiceDate(tc.instant), "instant %s", tc.instant)
	}
}

func TestServiceDateAcrossFallBack(t *testing.T) {
	// DST ended 2023-11-05 02:00 EDT.
	assert.Equal(t, model.NewDate(2023, 11, 5), ServiceDate(at(2023, 11, 5, 23, 59, 59)))
	assert.Equal(t, model.NewDate(2023, 11, 5), ServiceDate(at(2023, 11, 6, 0, 0, 0)))
	assert.Equal(t, model.NewDate(2023, 11, 5), ServiceDate(at(2023, 11, 6, 1, 0, 0)))
	assert.Equal(t, model.NewDate(2023, 11, 5), ServiceDate(at(2023, 11, 6, 2, 0, 0)))
	// 3am EST is 4am EDT; still the new service day.
	assert.Equal(t, model.NewDate(2023, 11, 6), ServiceDate(at(2023, 11, 6, 3, 0, 0)))
}

func TestServiceDateAcrossSpringForward(t *testing.T) {
	// DST began 2024-03-10; 02:30 EST does not exist and resolves
	// forward, which keeps it in the prior service day.
	assert.Equal(t, model.NewDate(2024, 3, 9), ServiceDate(at(2024, 3, 10, 1, 59, 59)))
	assert.Equal(t, model.NewDate(2024, 3, 10), ServiceDate(at(2024, 3, 10, 3, 0, 0)))
}

func TestServiceDateConvertsZones(t *testing.T) {
	// 06:30 UTC on Dec 16 is 01:30 EST on Dec 16: previous service day.
	utc := time.Date(2023, 12, 16, 6, 30, 0, 0, time.UTC)
	assert.Equal(t, model.NewDate(2023, 12, 15), ServiceDate(utc))
}
