package sniff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicDetect(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes")
	require.NoError(t, os.WriteFile(txt, []byte("just some words\n"), 0o644))
	png := filepath.Join(dir, "pixel")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644))

	ct, err := Magic{}.Detect(txt)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)

	ct, err = Magic{}.Detect(png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
}

func TestMagicDetectMissingFile(t *testing.T) {
	_, err := Magic{}.Detect(filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, err)
}

func TestEssence(t *testing.T) {
	assert.Equal(t, "text/plain", Essence("text/plain; charset=utf-8"))
	assert.Equal(t, "application/pdf", Essence("Application/PDF"))
	assert.Equal(t, "", Essence(""))
}
