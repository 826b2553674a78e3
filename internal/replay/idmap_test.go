package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDMap_UnsetResolvesToRemote(t *testing.T) {
	m := NewIDMap()
	local, skipped := m.Resolve("genus", 10)
	assert.Equal(t, int64(10), local)
	assert.False(t, skipped)
}

func TestIDMap_SlotsAreWrittenOnce(t *testing.T) {
	m := NewIDMap()
	assert.True(t, m.Set("genus", 10, 7))
	assert.False(t, m.Set("genus", 10, 8))
	assert.False(t, m.Skip("genus", 10))

	local, skipped := m.Resolve("genus", 10)
	assert.Equal(t, int64(7), local)
	assert.False(t, skipped)

	assert.True(t, m.Skip("family", 3))
	assert.False(t, m.Set("family", 3, 4))
	_, skipped = m.Resolve("family", 3)
	assert.True(t, skipped)
}

func TestIDMap_Entries(t *testing.T) {
	m := NewIDMap()
	m.Set("genus", 10, 7)
	m.Skip("family", 3)
	m.Set("family", 1, 2)

	e := m.Entries()
	assert.Len(t, e, 3)
	assert.Equal(t, "family", e[0].Table)
	assert.Equal(t, int64(1), e[0].Remote)
	assert.Equal(t, int64(2), *e[0].Local)
	assert.Nil(t, e[1].Local)
	assert.Equal(t, "genus", e[2].Table)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Skip_Related ")
	assert.NoError(t, err)
	assert.Equal(t, SkipRelated, d)

	_, err = ParseDecision("maybe")
	assert.Error(t, err)
	assert.Equal(t, "quit", Quit.String())
}

func TestPolicyResolver_NeverResolves(t *testing.T) {
	p := PolicyResolver{Decision: Resolve}
	assert.Equal(t, Skip, p.Resolve(t.Context(), nil))
	assert.Equal(t, Quit, PolicyResolver{Decision: Quit}.Resolve(t.Context(), nil))
}
