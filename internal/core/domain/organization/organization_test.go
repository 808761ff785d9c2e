package organization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoot_HasNilParentAndRootPath(t *testing.T) {
	root := NewRoot()
	assert.Nil(t, root.ParentID)
	assert.Equal(t, RootOrganizationPath, root.Path)
	assert.True(t, root.IsRoot())
}

func TestNew_DerivesPathFromParent(t *testing.T) {
	root := NewRoot()
	child, err := New("Acme", "acme", root)
	require.NoError(t, err)
	assert.Equal(t, "admin.acme", child.Path)
	assert.Equal(t, root.ID, *child.ParentID)
	assert.False(t, child.IsRoot())
}

func TestNew_RejectsNilParent(t *testing.T) {
	_, err := New("Acme", "acme", nil)
	assert.Error(t, err)
}

func TestNew_RejectsBlankName(t *testing.T) {
	root := NewRoot()
	_, err := New("  ", "acme", root)
	assert.Error(t, err)
}

func TestNew_RejectsBlankSlug(t *testing.T) {
	root := NewRoot()
	_, err := New("Acme", "  ", root)
	assert.Error(t, err)
}

func TestIsAncestorOf_TrueForSelf(t *testing.T) {
	root := NewRoot()
	assert.True(t, root.IsAncestorOf(root))
}

func TestIsAncestorOf_TrueForDescendant(t *testing.T) {
	root := NewRoot()
	child, _ := New("Acme", "acme", root)
	grandchild, _ := New("Team", "team", child)
	assert.True(t, root.IsAncestorOf(grandchild))
	assert.True(t, child.IsAncestorOf(grandchild))
}

func TestIsAncestorOf_FalseForUnrelatedSibling(t *testing.T) {
	root := NewRoot()
	acme, _ := New("Acme", "acme", root)
	globex, _ := New("Globex", "globex", root)
	assert.False(t, acme.IsAncestorOf(globex))
}

func TestIsAncestorOf_FalseForSimilarlyPrefixedSlug(t *testing.T) {
	root := NewRoot()
	acme, _ := New("Acme", "acme", root)
	acmeCorp, _ := New("AcmeCorp", "acme-corp", root)
	assert.False(t, acme.IsAncestorOf(acmeCorp))
}

func TestRepathForNewParent_RewritesPrefix(t *testing.T) {
	got := RepathForNewParent("admin.acme.team-a.sub", "admin.acme.team-a", "admin.globex", "team-a")
	assert.Equal(t, "admin.globex.team-a.sub", got)
}

func TestRepathForNewParent_ExactMatchHasNoSuffix(t *testing.T) {
	got := RepathForNewParent("admin.acme.team-a", "admin.acme.team-a", "admin.globex", "team-a")
	assert.Equal(t, "admin.globex.team-a", got)
}

func TestDepth_RootIsZero(t *testing.T) {
	root := NewRoot()
	assert.Equal(t, 0, root.Depth())
}

func TestDepth_IncreasesPerLevel(t *testing.T) {
	root := NewRoot()
	child, _ := New("Acme", "acme", root)
	grandchild, _ := New("Team", "team", child)
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, 2, grandchild.Depth())
}
