// Package models defines server-side data models persisted in the database.
package models

import "time"

// Emotion is the closed set of moods an echo can be tagged with.
type Emotion string

const (
	EmotionJoy        Emotion = "joy"
	EmotionCalm       Emotion = "calm"
	EmotionSadness    Emotion = "sadness"
	EmotionAnger      Emotion = "anger"
	EmotionFear       Emotion = "fear"
	EmotionSurprise   Emotion = "surprise"
	EmotionLove       Emotion = "love"
	EmotionNostalgia  Emotion = "nostalgia"
	EmotionExcitement Emotion = "excitement"
	EmotionPeaceful   Emotion = "peaceful"
	EmotionMelancholy Emotion = "melancholy"
	EmotionHope       Emotion = "hope"
)

// Emotions lists every supported emotion, in a stable order.
var Emotions = []Emotion{
	EmotionJoy, EmotionCalm, EmotionSadness, EmotionAnger,
	EmotionFear, EmotionSurprise, EmotionLove, EmotionNostalgia,
	EmotionExcitement, EmotionPeaceful, EmotionMelancholy, EmotionHope,
}

// Valid reports whether e belongs to the supported set.
func (e Emotion) Valid() bool {
	for _, known := range Emotions {
		if e == known {
			return true
		}
	}
	return false
}

// Location is an optional place attached to an echo.
type Location struct {
	Lat     float64
	Lng     float64
	Address string
}

// Echo describes server-side metadata for an audio clip. The audio payload
// itself is stored in object storage under BlobKey.
type Echo struct {
	// ID is the server-generated identifier, assigned at upload-init time.
	ID string
	// UserID is the owner of the echo. It never changes after commit.
	UserID string
	// Emotion is the user-chosen mood tag.
	Emotion Emotion

	// BlobKey is the object-storage key of the audio blob, always derived
	// server-side as {UserID}/{ID}.{extension}.
	BlobKey string

	// DurationSeconds is the clip length reported at commit time.
	DurationSeconds float64
	// Tags is an ordered list of short user labels.
	Tags []string
	// Transcript is an optional text transcript; empty means absent.
	Transcript string
	// DetectedMood is an optional label produced by an external analyzer.
	// It is stored verbatim and never interpreted here.
	DetectedMood string
	// Location is an optional recording place.
	Location *Location

	// CreatedAt is server-assigned at commit time, never client-supplied.
	CreatedAt time.Time
}

// UploadSession instructs a client to upload an audio blob using a presigned
// URL. It is never persisted; once ExpiresInSeconds elapse the URL stops
// working and the session simply evaporates.
type UploadSession struct {
	// EchoID is the identifier the client must present on commit.
	EchoID string
	// BlobKey is the object-storage key the URL writes to.
	BlobKey string
	// UploadURL is a temporary presigned HTTP URL for the client to PUT the blob.
	UploadURL string
	// ExpiresInSeconds is the validity window of UploadURL.
	ExpiresInSeconds int64
}

// EchoPage is one page of a reverse-chronological listing.
type EchoPage struct {
	Echoes     []*Echo
	TotalCount int64
	Page       int
	PageSize   int
	HasMore    bool
}
