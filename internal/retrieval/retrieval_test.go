package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirRetrieverFetch(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "acme", "vault")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "contracts"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "contracts", "Vault.sol"), []byte("contract Vault {}"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# vault"), 0600))

	res, err := DirRetriever{Root: root}.Fetch(context.Background(), "acme/vault")
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "contracts/Vault.sol", res.Files[0].Path)
	assert.Contains(t, res.Flattened, "// File: contracts/Vault.sol")
	assert.Contains(t, res.Flattened, "contract Vault {}")
}

func TestDirRetrieverUnknownRepo(t *testing.T) {
	_, err := DirRetriever{Root: t.TempDir()}.Fetch(context.Background(), "acme/missing")
	assert.Error(t, err)
}

func TestDirRetrieverNoSources(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "acme", "docs")
	require.NoError(t, os.MkdirAll(repo, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# docs"), 0600))

	_, err := DirRetriever{Root: root}.Fetch(context.Background(), "acme/docs")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no contract source")
}

func TestDirRetrieverBlocksTraversal(t *testing.T) {
	root := filepath.Join(t.TempDir(), "checkouts")
	require.NoError(t, os.MkdirAll(root, 0700))

	_, err := DirRetriever{Root: root}.Fetch(context.Background(), "../../etc")
	assert.Error(t, err)
}
