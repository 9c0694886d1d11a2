package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertLevelForScore(t *testing.T) {
	tests := []struct {
		score int
		want  AlertLevel
	}{
		{100, AlertUrgent},
		{80, AlertUrgent},
		{79, AlertInteressant},
		{60, AlertInteressant},
		{59, AlertSurveiller},
		{40, AlertSurveiller},
		{39, AlertArchive},
		{0, AlertArchive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlertLevelForScore(tt.score), "score %d", tt.score)
	}
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityModerate, SeverityCritical))
	assert.Equal(t, SeverityMajor, MaxSeverity(SeverityMajor, SeverityMinor))
	assert.Equal(t, SeverityMinor, MaxSeverity("", SeverityMinor))
}

func TestSourceValid(t *testing.T) {
	assert.True(t, Source("leboncoin").Valid())
	assert.False(t, Source("ebay").Valid())
}
