package dsa

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFolderClient struct {
	Client

	folders []Folder
	listErr error
	created []string
}

func (f *fakeFolderClient) ListFolders(ctx context.Context, parentID, parentType string) ([]Folder, error) {
	return f.folders, f.listErr
}

func (f *fakeFolderClient) CreateFolder(ctx context.Context, parentID, name, parentType string, reuseExisting bool) (*Folder, error) {
	f.created = append(f.created, name)
	return &Folder{ID: "new-" + name, Name: name, ParentID: parentID}, nil
}

func TestEnsureFolders_CreatesOnlyMissing(t *testing.T) {
	t.Parallel()

	fake := &fakeFolderClient{folders: []Folder{
		{ID: "f1", Name: "cases"},
		{ID: "f2", Name: "stains"},
	}}

	out, err := EnsureFolders(context.Background(), fake, "parent-1", "collection",
		[]string{"cases", "stains", "regions"})
	require.NoError(t, err)

	assert.Equal(t, []string{"regions"}, fake.created)
	require.Len(t, out, 3)
	assert.Equal(t, "f1", out["cases"].ID)
	assert.Equal(t, "f2", out["stains"].ID)
	assert.Equal(t, "new-regions", out["regions"].ID)
}

func TestEnsureFolders_AllExisting(t *testing.T) {
	t.Parallel()

	fake := &fakeFolderClient{folders: []Folder{{ID: "f1", Name: "cases"}}}

	out, err := EnsureFolders(context.Background(), fake, "parent-1", "folder", []string{"cases"})
	require.NoError(t, err)
	assert.Empty(t, fake.created)
	assert.Equal(t, "f1", out["cases"].ID)
}

func TestEnsureFolders_ListFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeFolderClient{listErr: errors.New("boom")}

	_, err := EnsureFolders(context.Background(), fake, "parent-1", "folder", []string{"cases"})
	assert.Error(t, err)
}
