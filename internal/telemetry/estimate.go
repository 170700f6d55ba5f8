package telemetry

// EstimationQuery describes the compression whose outcome is predicted.
type EstimationQuery struct {
	InputFormat  string `json:"input_format"`
	OutputFormat string `json:"output_format"`
	OriginalSize int64  `json:"original_size"`
	Quality      int    `json:"quality_setting"`
	Lossy        bool   `json:"lossy_mode"`
}

// Estimation is a predicted size reduction with a confidence level.
type Estimation struct {
	Percent     float64 `json:"percent"`
	Ratio       float64 `json:"ratio"`
	Confidence  float64 `json:"confidence"`
	SampleCount int64   `json:"sample_count"`
}

// HeuristicEstimate predicts the reduction from a static per-format-pair
// table, modulated by the quality setting. It backs Estimate when no
// recorded history matches the query.
func HeuristicEstimate(q EstimationQuery) Estimation {
	quality := float64(q.Quality)

	// Per pair: base percent at quality 80, confidence, and how many
	// percentage points the reduction shifts per quality point.
	var base, confidence, sensitivity float64
	switch {
	case q.InputFormat == "png" && q.OutputFormat == "webp":
		if quality >= 90 {
			base, confidence, sensitivity = 43, 0.8, 0.2
		} else {
			base, confidence, sensitivity = 85, 0.9, 0.5
		}
	case q.InputFormat == "jpeg" && q.OutputFormat == "webp":
		base, confidence, sensitivity = 8, 0.5, 0.15
	case q.InputFormat == "png" && q.OutputFormat == "png":
		base, confidence, sensitivity = 15, 0.9, 0
	case q.InputFormat == "jpeg" && q.OutputFormat == "jpeg":
		base, confidence, sensitivity = 20, 0.8, 0.3
	case q.InputFormat == "webp" && q.OutputFormat == "webp":
		base, confidence, sensitivity = 10, 0.6, 0.2
	case q.InputFormat == "heic" && q.OutputFormat == "webp":
		base, confidence, sensitivity = 70, 0.7, 0.5
	case q.InputFormat == "heic" && q.OutputFormat == "jpeg":
		base, confidence, sensitivity = 50, 0.7, 0.4
	case q.InputFormat == "heic" && q.OutputFormat == "png":
		base, confidence, sensitivity = 10, 0.5, 0
	default:
		base, confidence, sensitivity = 5, 0.3, 0.1
	}

	// Lower quality compresses harder; reference point is quality 80.
	percent := base - (quality-80)*sensitivity
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}

	sampleCount := int64(10)
	if confidence > 0.7 {
		sampleCount = 100
	}

	return Estimation{
		Percent:     percent,
		Ratio:       (100 - percent) / 100,
		Confidence:  confidence,
		SampleCount: sampleCount,
	}
}

// Confidence grades an estimation by sample count, discounted by sample
// variance.
func Confidence(sampleCount int64, variance float64) float64 {
	var base float64
	switch {
	case sampleCount == 0:
		return 0
	case sampleCount <= 5:
		base = 0.3
	case sampleCount <= 20:
		base = 0.6
	case sampleCount <= 50:
		base = 0.8
	default:
		base = 0.9
	}

	factor := 1.0
	if variance > 0 {
		factor = 1 / (1 + variance)
	}

	c := base * factor
	if c > 1 {
		c = 1
	}
	return c
}
