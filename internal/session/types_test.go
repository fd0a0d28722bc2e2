package session

import "testing"

func TestClassifyQuality(t *testing.T) {
	tests := []struct {
		name     string
		rtt, jit float64
		want     QualityClass
	}{
		{"low rtt low jitter", 30, 5, QualityExcellent},
		{"just under excellent", 49.9, 9.9, QualityExcellent},
		{"rtt at excellent boundary", 50, 5, QualityGood},
		{"jitter at excellent boundary", 30, 10, QualityGood},
		{"moderate", 80, 15, QualityGood},
		{"rtt at good boundary", 100, 20, QualityPoor},
		{"degraded", 150, 30, QualityPoor},
		{"high rtt", 250, 10, QualityBad},
		{"high jitter", 10, 60, QualityBad},
		{"rtt at poor boundary", 200, 10, QualityBad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyQuality(tt.rtt, tt.jit); got != tt.want {
				t.Errorf("classifyQuality(%v, %v) = %v, want %v", tt.rtt, tt.jit, got, tt.want)
			}
		})
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{2, 2},
		{2.5, 2},
	}
	for _, tt := range tests {
		if got := clampVolume(tt.in); got != tt.want {
			t.Errorf("clampVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSplitStreamID(t *testing.T) {
	tests := []struct {
		streamID string
		identity string
		screen   bool
	}{
		{"alice", "alice", false},
		{"alice#screen", "alice", true},
		{"bob#screenx", "bob#screenx", false},
		{"#screen", "", true},
	}
	for _, tt := range tests {
		id, screen := splitStreamID(tt.streamID)
		if id != tt.identity || screen != tt.screen {
			t.Errorf("splitStreamID(%q) = %q,%v want %q,%v",
				tt.streamID, id, screen, tt.identity, tt.screen)
		}
	}
}
