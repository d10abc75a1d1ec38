package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesExactOrigin(t *testing.T) {
	w, err := New([]string{"https://trusted.example.com"})
	require.NoError(t, err)

	assert.True(t, w.Matches("https://trusted.example.com/deep/path?q=1"))
	assert.True(t, w.Matches("HTTPS://TRUSTED.EXAMPLE.COM/"))
	assert.False(t, w.Matches("https://other.example.com/"))
	assert.False(t, w.Matches("http://trusted.example.com/"), "scheme is part of the origin")
}

func TestMatchesGlobPattern(t *testing.T) {
	w, err := New([]string{"https://*.corp.example.com"})
	require.NoError(t, err)

	assert.True(t, w.Matches("https://mail.corp.example.com/inbox"))
	assert.True(t, w.Matches("https://wiki.corp.example.com"))
	assert.False(t, w.Matches("https://corp.example.com"), "bare apex does not match the wildcard")
	assert.False(t, w.Matches("https://evil.com/?u=mail.corp.example.com"))
}

func TestMatchesStripsDefaultPort(t *testing.T) {
	w, err := New([]string{"https://a.com"})
	require.NoError(t, err)

	assert.True(t, w.Matches("https://a.com:443/x"))
	assert.False(t, w.Matches("https://a.com:8443/x"))
}

func TestUnparseableURLNeverMatches(t *testing.T) {
	w, err := New([]string{"https://**"})
	require.NoError(t, err)

	assert.False(t, w.Matches("::not a url::"))
	assert.False(t, w.Matches(""))
}

func TestAddRemoveList(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, w.Add("https://b.com"))
	require.NoError(t, w.Add("https://a.com"))
	require.NoError(t, w.Add("https://a.com"), "duplicate add is a no-op")
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, w.Patterns())

	assert.True(t, w.Remove("https://a.com"))
	assert.False(t, w.Remove("https://a.com"))
	assert.Equal(t, []string{"https://b.com"}, w.Patterns())
}

func TestAddRejectsInvalidPattern(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)

	assert.Error(t, w.Add(""))
	assert.Error(t, w.Add("https://[unclosed"))

	_, err = New([]string{"https://[unclosed"})
	assert.Error(t, err)
}
