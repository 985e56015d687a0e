package video

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// MockLocations are the descriptions returned when the chat call cannot be
// made or fails.
var MockLocations = []string{
	"on the kitchen counter next to the coffee maker",
	"on the wooden desk beside the computer monitor",
	"on the bedside nightstand next to the reading lamp",
	"on the dining room table near the fruit bowl",
	"on the living room coffee table next to the remote control",
}

// MockUploadMessage flags an upload that never reached the service.
const MockUploadMessage = "Mock upload successful (API key not configured)"

// MockPrefix marks recording ids minted locally.
const MockPrefix = "mock_"

func mockUpload(now time.Time, filename string) UploadResult {
	return UploadResult{
		RecordingID: fmt.Sprintf("%s%d_%s", MockPrefix, now.Unix(), filename),
		Status:      StatusProcessing,
		Message:     MockUploadMessage,
		Mock:        true,
	}
}

func mockSearch(now time.Time, query string) []Candidate {
	ts := now.UnixMilli() - int64(time.Hour/time.Millisecond)
	score := 0.92
	return []Candidate{{
		RecordingID: fmt.Sprintf("%svideo_%d", MockPrefix, now.Unix()),
		Timestamp:   &ts,
		Confidence:  &score,
		Snippet:     fmt.Sprintf("Mock search result for '%s'", query),
	}}
}

func mockLocation() string {
	return MockLocations[rand.IntN(len(MockLocations))]
}
