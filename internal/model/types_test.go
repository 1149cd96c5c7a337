package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPackageEqualIgnoresTimestamps(t *testing.T) {
	a := Package{
		Identifier:  "P-100",
		Username:    "alice",
		Tracking:    "1Z999",
		Description: "headphones",
		Weight:      2.5,
		Status:      PackageStatus{Description: "En tránsito", Percentage: "40%"},
		DeliveredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	b := a
	b.DeliveredAt = b.DeliveredAt.AddDate(0, 0, 7)
	b.UpdatedAt = time.Now()

	assert.True(t, a.Equal(b), "timestamp-only differences must not count as changes")
}

func TestPackageEqualDetectsFieldChanges(t *testing.T) {
	base := Package{
		Identifier:  "P-100",
		Tracking:    "1Z999",
		Description: "headphones",
		Weight:      2.5,
		Status:      PackageStatus{Description: "En tránsito", Percentage: "40%"},
	}

	cases := []struct {
		name   string
		mutate func(*Package)
	}{
		{"status", func(p *Package) { p.Status.Percentage = "90%" }},
		{"weight", func(p *Package) { p.Weight = 3 }},
		{"description", func(p *Package) { p.Description = "speakers" }},
		{"tracking", func(p *Package) { p.Tracking = "1Z000" }},
		{"identifier", func(p *Package) { p.Identifier = "P-101" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			other := base
			tc.mutate(&other)
			assert.False(t, base.Equal(other))
		})
	}
}
