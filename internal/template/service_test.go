package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderVoteDefaults(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	data := VoteData{
		Project: "test", Version: "0.1", Committee: "tooling",
		RevisionNumber: "00003", DurationHours: 72,
		InitiatorID: "alice", InitiatorFullName: "Alice Example",
	}

	subject, err := s.Render(VoteSubject, data)
	require.NoError(t, err)
	assert.Equal(t, "[VOTE] Release test 0.1", subject)

	body, err := s.Render(VoteBody, data)
	require.NoError(t, err)
	assert.Contains(t, body, "Candidate revision: 00003")
	assert.Contains(t, body, "at least 72 hours")
	assert.Contains(t, body, "Alice Example (alice)")
}

func TestRenderResolution(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	body, err := s.Render(ResolutionBody, ResolutionData{
		Project: "test", Version: "0.1", Passed: true, BindingYes: 3, BindingNo: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, body, "has passed")
	assert.Contains(t, body, "Binding +1: 3")

	body, err = s.Render(ResolutionBody, ResolutionData{Project: "test", Version: "0.1"})
	require.NoError(t, err)
	assert.Contains(t, body, "has failed")
}

func TestRegisterOverride(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	require.NoError(t, s.Register(VoteSubject, `CUSTOM {{.Project}}/{{.Version}}`))
	subject, err := s.Render(VoteSubject, VoteData{Project: "test", Version: "0.1"})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM test/0.1", subject)

	err = s.Register(VoteSubject, `{{.Broken`)
	assert.Error(t, err)
}

func TestRenderString(t *testing.T) {
	s, err := NewService()
	require.NoError(t, err)

	out, err := s.RenderString(`{{upper .Project}}-{{.Version}}`, VoteData{Project: "test", Version: "0.1"})
	require.NoError(t, err)
	assert.Equal(t, "TEST-0.1", out)
}

func TestIsDefault(t *testing.T) {
	def, ok := Default(VoteBody)
	require.True(t, ok)
	assert.True(t, IsDefault(VoteBody, def))
	assert.False(t, IsDefault(VoteBody, strings.Replace(def, "vote", "VOTE", 1)))
	assert.False(t, IsDefault("no-such-template", def))
}
