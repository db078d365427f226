package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const trackIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTrackID returns a new unique track identifier, e.g. "trk_x1h9c0q2k7ne".
func NewTrackID() string {
	id, err := gonanoid.Generate(trackIDAlphabet, 12)
	if err != nil {
		// Generate only fails when the platform RNG is unavailable.
		panic(err)
	}
	return "trk_" + id
}
