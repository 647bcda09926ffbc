package playlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePLS(t *testing.T) {
	body := "[playlist]\nNumberOfEntries=1\nFile1=http://ice6.somafm.com/groovesalad-256-mp3\nTitle1=SomaFM\n"

	url, err := ParsePLS(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "http://ice6.somafm.com/groovesalad-256-mp3", url)
}

func TestParsePLSNoEntries(t *testing.T) {
	_, err := ParsePLS(strings.NewReader("[playlist]\nNumberOfEntries=0\n"))
	assert.Error(t, err)
}

func TestParseM3U(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:-1,Groove Salad\nhttp://ice6.somafm.com/groovesalad-256-mp3\n"

	url, err := ParseM3U(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "http://ice6.somafm.com/groovesalad-256-mp3", url)
}

func TestParseM3USkipsCommentsAndBlanks(t *testing.T) {
	body := "#EXTM3U\n\n# a comment\nhttps://example.com/stream\n"

	url, err := ParseM3U(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/stream", url)
}

func TestResolvePicksParserFromContentType(t *testing.T) {
	url, err := Resolve("http://radio.example/stream", "audio/x-scpls",
		strings.NewReader("File1=http://radio.example/direct\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://radio.example/direct", url)

	url, err = Resolve("http://radio.example/stream", "audio/mpegurl",
		strings.NewReader("http://radio.example/direct\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://radio.example/direct", url)
}

func TestResolveRejectsGarbage(t *testing.T) {
	_, err := Resolve("http://radio.example/stream", "text/html",
		strings.NewReader("<html>not a playlist</html>"))
	assert.Error(t, err)
}

func TestLooksLikePlaylist(t *testing.T) {
	assert.True(t, LooksLikePlaylist("http://radio.example/listen.pls"))
	assert.True(t, LooksLikePlaylist("http://radio.example/listen.m3u"))
	assert.True(t, LooksLikePlaylist("http://radio.example/listen.m3u8?token=x"))
	assert.False(t, LooksLikePlaylist("http://radio.example/stream"))
	assert.False(t, LooksLikePlaylist("http://radio.example/stream.mp3"))
}
