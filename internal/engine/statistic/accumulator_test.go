package statistic

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAccumulatorMeanAndVariance(t *testing.T) {
	acc := New()
	samples := []float64{10, 20, 30}
	for _, s := range samples {
		acc.Add(s)
	}
	sum := acc.Summary()

	if sum.Count != 3 {
		t.Errorf("Expected count 3, got %d", sum.Count)
	}
	if !almostEqual(sum.Mean, 20, 1e-9) {
		t.Errorf("Expected mean 20, got %v", sum.Mean)
	}

	// Direct population variance.
	var direct float64
	for _, s := range samples {
		direct += (s - 20) * (s - 20)
	}
	direct /= float64(len(samples))
	if !almostEqual(sum.Variance, direct, 1e-9) {
		t.Errorf("Expected variance %v, got %v", direct, sum.Variance)
	}
	if !almostEqual(sum.Variance, 66.67, 0.01) {
		t.Errorf("Expected variance ~66.67, got %v", sum.Variance)
	}
	if !almostEqual(sum.Median, 20, 20*0.01) {
		t.Errorf("Expected median within 1%% of 20, got %v", sum.Median)
	}
	if sum.Last != 30 {
		t.Errorf("Expected last sample 30, got %v", sum.Last)
	}
}

func TestAccumulatorSingleSample(t *testing.T) {
	acc := New()
	sum := acc.Add(0.050)
	if sum.Count != 1 || sum.Variance != 0 {
		t.Errorf("Expected count 1 and variance 0, got %+v", sum)
	}
	if !almostEqual(sum.Mean, 0.050, 1e-12) {
		t.Errorf("Expected mean 0.050, got %v", sum.Mean)
	}
	if !almostEqual(sum.Median, 0.050, 0.050*0.01+1e-6) {
		t.Errorf("Expected median ~0.050, got %v", sum.Median)
	}
}

func TestAccumulatorZeroIsNotNoSample(t *testing.T) {
	empty := New().Summary()
	if !errors.Is(empty.Check(), ErrNoSample) {
		t.Errorf("Expected ErrNoSample for an empty accumulator, got %v", empty.Check())
	}

	acc := New()
	sum := acc.Add(0)
	if err := sum.Check(); err != nil {
		t.Errorf("Expected a zero sample to be a value, got %v", err)
	}
	if sum.Mean != 0 || sum.Median != 0 {
		t.Errorf("Expected zero statistics, got %+v", sum)
	}
}

func TestAccumulatorMedianIsStable(t *testing.T) {
	acc := New()
	for i := 1; i <= 101; i++ {
		acc.Add(float64(i) / 1000)
	}
	first := acc.Summary().Median
	for i := 0; i < 5; i++ {
		if got := acc.Summary().Median; got != first {
			t.Fatalf("Expected repeated median %v, got %v", first, got)
		}
	}
	if !almostEqual(first, 0.051, 0.051*0.01+1e-6) {
		t.Errorf("Expected median ~0.051, got %v", first)
	}
}

func TestAccumulatorClampsOutOfRange(t *testing.T) {
	acc := New()
	acc.Add(120)
	if got := acc.Summary().Median; !almostEqual(got, 60, 60*0.01) {
		t.Errorf("Expected median clamped near 60s, got %v", got)
	}
	if acc.Summary().Mean != 120 {
		t.Errorf("Expected mean to keep the raw sample, got %v", acc.Summary().Mean)
	}
}

func TestMetricLogName(t *testing.T) {
	tests := []struct {
		metric Metric
		port   uint32
		name   string
	}{
		{EchoRTT, 0, "EchoRTT"},
		{PktInRTT, 0, "PktInRTT"},
		{Dp2CtrlRTT, 0, "Dp2CtrlRTT"},
		{LinkLat, 3, "LinkLat_3"},
	}
	for _, tt := range tests {
		if got := tt.metric.LogName(tt.port); got != tt.name {
			t.Errorf("Expected %s, got %s", tt.name, got)
		}
		m, port, err := ParseLogName(tt.name)
		if err != nil || m != tt.metric || port != tt.port {
			t.Errorf("ParseLogName(%s): got %v %d %v", tt.name, m, port, err)
		}
	}
	if _, _, err := ParseLogName("Bogus"); err == nil {
		t.Errorf("Expected an error for an unknown metric")
	}
}
