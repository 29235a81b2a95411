package replay

import (
	"fmt"
	"math"

	"gwi.com/live-replay/internal/store"
)

// Score weights, in percent of the overall score.
const (
	audioWeight       = 40
	videoWeight       = 30
	responseWeight    = 20
	sufficiencyWeight = 10

	minCoveragePercent   = 80.0
	sufficientLogCount   = 30
	minSessionDurationMs = 10_000
	replayScoreThreshold = 50.0
)

// CategoryCoverage counts the logs of one category that point at usable content.
type CategoryCoverage struct {
	Total     int     `json:"total"`
	WithMedia int     `json:"with_media"`
	Coverage  float64 `json:"coverage_percent"`
}

func (c *CategoryCoverage) add(usable bool) {
	c.Total++
	if usable {
		c.WithMedia++
	}
}

func (c *CategoryCoverage) finish() {
	if c.Total > 0 {
		c.Coverage = round1(float64(c.WithMedia) / float64(c.Total) * 100)
	}
}

// QualityReport is advisory; it never gates segmentation or stitching.
type QualityReport struct {
	SessionID           string           `json:"session_id"`
	TotalLogs           int              `json:"total_logs"`
	DurationMs          int64            `json:"duration_ms"`
	AudioChunks         CategoryCoverage `json:"audio_chunks"`
	VideoFrames         CategoryCoverage `json:"video_frames"`
	APIResponses        CategoryCoverage `json:"api_responses"`
	UserActions         int              `json:"user_actions"`
	TextInputs          int              `json:"text_inputs"`
	OverallQualityScore float64          `json:"overall_quality_score"`
	ReplayRecommended   bool             `json:"replay_recommended"`
	Recommendations     []string         `json:"recommendations"`
}

// Analyze scores how complete a session's capture is. An api_response counts
// as usable when it carries media or text.
func Analyze(sessionID string, logs []store.InteractionLog) QualityReport {
	report := QualityReport{SessionID: sessionID, TotalLogs: len(logs), Recommendations: []string{}}

	var first, last int64
	for i, entry := range logs {
		ts := store.TimestampMillis(entry.Timestamp)
		if i == 0 || ts < first {
			first = ts
		}
		if i == 0 || ts > last {
			last = ts
		}
		switch entry.InteractionType {
		case store.InteractionAudioChunk:
			report.AudioChunks.add(entry.HasMedia())
		case store.InteractionVideoFrame:
			report.VideoFrames.add(entry.HasMedia())
		case store.InteractionAPIResponse:
			report.APIResponses.add(entry.HasMedia() || entry.Metadata.Text != "")
		case store.InteractionUserAction:
			report.UserActions++
		case store.InteractionTextInput:
			report.TextInputs++
		}
	}
	if len(logs) > 0 {
		report.DurationMs = last - first
	}
	report.AudioChunks.finish()
	report.VideoFrames.finish()
	report.APIResponses.finish()

	sufficiency := math.Min(float64(report.TotalLogs)/sufficientLogCount, 1) * 100
	report.OverallQualityScore = round1((report.AudioChunks.Coverage*audioWeight +
		report.VideoFrames.Coverage*videoWeight +
		report.APIResponses.Coverage*responseWeight +
		sufficiency*sufficiencyWeight) / 100)

	report.Recommendations = recommendations(report)
	report.ReplayRecommended = report.OverallQualityScore >= replayScoreThreshold &&
		report.AudioChunks.WithMedia+report.VideoFrames.WithMedia > 0
	return report
}

func recommendations(r QualityReport) []string {
	recs := []string{}
	switch {
	case r.AudioChunks.Total == 0:
		recs = append(recs, "No audio chunks were captured; check that microphone capture is enabled.")
	case r.AudioChunks.Coverage < minCoveragePercent:
		recs = append(recs, fmt.Sprintf("Audio coverage is %.1f%%; %d of %d chunks have no stored media.",
			r.AudioChunks.Coverage, r.AudioChunks.Total-r.AudioChunks.WithMedia, r.AudioChunks.Total))
	}
	if r.VideoFrames.Total > 0 && r.VideoFrames.Coverage < minCoveragePercent {
		recs = append(recs, fmt.Sprintf("Video coverage is %.1f%%; %d of %d frames have no stored media.",
			r.VideoFrames.Coverage, r.VideoFrames.Total-r.VideoFrames.WithMedia, r.VideoFrames.Total))
	}
	if r.TotalLogs < sufficientLogCount {
		recs = append(recs, fmt.Sprintf("Only %d interaction logs were recorded; at least %d are needed for a useful replay.",
			r.TotalLogs, sufficientLogCount))
	}
	if r.DurationMs < minSessionDurationMs {
		recs = append(recs, fmt.Sprintf("Session lasted %.1fs; sessions shorter than %ds rarely contain a full exchange.",
			float64(r.DurationMs)/1000, minSessionDurationMs/1000))
	}
	return recs
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
