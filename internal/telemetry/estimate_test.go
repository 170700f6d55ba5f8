package telemetry

import (
	"math"
	"testing"
)

func TestHeuristicEstimatePNGToWebP(t *testing.T) {
	est := HeuristicEstimate(EstimationQuery{
		InputFormat: "png", OutputFormat: "webp", Quality: 80, Lossy: true,
	})
	if est.Percent != 85 {
		t.Errorf("percent = %v, want 85 at reference quality", est.Percent)
	}
	if est.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", est.Confidence)
	}

	// near-lossless quality switches to the conservative branch
	nearLossless := HeuristicEstimate(EstimationQuery{
		InputFormat: "png", OutputFormat: "webp", Quality: 95, Lossy: true,
	})
	if nearLossless.Percent >= est.Percent {
		t.Errorf("quality 95 percent = %v, should drop below %v", nearLossless.Percent, est.Percent)
	}
}

func TestHeuristicEstimateQualitySensitivity(t *testing.T) {
	low := HeuristicEstimate(EstimationQuery{InputFormat: "jpeg", OutputFormat: "jpeg", Quality: 60})
	ref := HeuristicEstimate(EstimationQuery{InputFormat: "jpeg", OutputFormat: "jpeg", Quality: 80})
	if low.Percent <= ref.Percent {
		t.Errorf("lower quality should compress harder: q60=%v q80=%v", low.Percent, ref.Percent)
	}

	// png -> png is quality-insensitive (lossless)
	a := HeuristicEstimate(EstimationQuery{InputFormat: "png", OutputFormat: "png", Quality: 60})
	b := HeuristicEstimate(EstimationQuery{InputFormat: "png", OutputFormat: "png", Quality: 100})
	if a.Percent != b.Percent {
		t.Errorf("lossless pair varies with quality: %v vs %v", a.Percent, b.Percent)
	}
}

func TestHeuristicEstimateUnknownPairFallsBack(t *testing.T) {
	est := HeuristicEstimate(EstimationQuery{InputFormat: "other", OutputFormat: "webp", Quality: 80})
	if est.Percent != 5 || est.Confidence != 0.3 {
		t.Errorf("unknown pair = %+v, want the conservative default", est)
	}
}

func TestHeuristicEstimateRatioMatchesPercent(t *testing.T) {
	est := HeuristicEstimate(EstimationQuery{InputFormat: "heic", OutputFormat: "jpeg", Quality: 80})
	want := (100 - est.Percent) / 100
	if math.Abs(est.Ratio-want) > 1e-9 {
		t.Errorf("ratio = %v, want %v", est.Ratio, want)
	}
}

func TestConfidenceGrading(t *testing.T) {
	if c := Confidence(0, 0); c != 0 {
		t.Errorf("no samples confidence = %v, want 0", c)
	}
	if c := Confidence(3, 0); c != 0.3 {
		t.Errorf("3 samples confidence = %v, want 0.3", c)
	}
	if c := Confidence(200, 0); c != 0.9 {
		t.Errorf("200 samples confidence = %v, want 0.9", c)
	}

	// variance discounts the grade
	noisy := Confidence(200, 4)
	if noisy >= 0.9 {
		t.Errorf("noisy confidence = %v, should be discounted", noisy)
	}
}

func TestSizeRangeBuckets(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "small"},
		{1_000_000, "small"},
		{1_000_001, "medium"},
		{5_000_000, "medium"},
		{5_000_001, "large"},
	}
	for _, tc := range cases {
		if got := SizeRange(tc.size); got != tc.want {
			t.Errorf("SizeRange(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

func TestNewRecordReduction(t *testing.T) {
	rec := NewRecord("jpeg", "webp", 1000, 400, 80, true, "1.0.0")
	if rec.ReductionPercent != 60 {
		t.Errorf("reduction = %v, want 60", rec.ReductionPercent)
	}
	if rec.InputSizeRange != "small" {
		t.Errorf("size range = %q, want small", rec.InputSizeRange)
	}

	// output larger than input goes negative rather than clamping
	grew := NewRecord("png", "png", 1000, 1200, 100, false, "1.0.0")
	if grew.ReductionPercent != -20 {
		t.Errorf("reduction = %v, want -20", grew.ReductionPercent)
	}

	// zero original size must not divide by zero
	empty := NewRecord("jpeg", "jpeg", 0, 0, 80, true, "1.0.0")
	if empty.ReductionPercent != 0 {
		t.Errorf("reduction = %v, want 0", empty.ReductionPercent)
	}
}
