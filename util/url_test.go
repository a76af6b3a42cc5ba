package util

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestVideoID(t *testing.T) {
	assert := assert_.New(t)

	for input, expected := range map[string]string{
		"https://www.youtube.com/watch?v=abc123":  "abc123",
		"https://m.youtube.com/watch?v=abc123":    "abc123",
		"https://www.youtube.com/v/abc123":        "abc123",
		"https://youtu.be/abc123":                 "abc123",
		"https://www.youtube.com/details?v=xyz_9": "xyz_9",
		"https://x/watch?v=abc123":                "abc123",
	} {
		id, err := VideoID(input)
		assert.NoError(err, input)
		assert.Equal(expected, id, input)
	}

	_, err := VideoID("https://www.youtube.com/watch")
	assert.ErrorIs(err, ErrNoVideoID)
	_, err = VideoID("https://example.com/foo")
	assert.ErrorIs(err, ErrNoVideoID)
}

func TestDerivedFilenames(t *testing.T) {
	assert := assert_.New(t)

	name, err := MediaFilename("https://www.youtube.com/watch?v=abc123")
	assert.NoError(err)
	assert.Equal("abc123.mp4", name)

	thumb, err := ThumbnailFilename("https://www.youtube.com/watch?v=abc123")
	assert.NoError(err)
	assert.Equal("abc123.jpg", thumb)

	assert.Equal("abc123", StemOf("abc123.mp4"))
	assert.Equal("abc123", StemOf("abc123"))
}
