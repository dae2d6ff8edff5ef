package prompt

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_EmbeddedTemplatesParse(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Names())
}

func TestRender_UndefinedVariable(t *testing.T) {
	fsys := fstest.MapFS{
		"greet.tmpl": &fstest.MapFile{Data: []byte("hello {{.Name}}")},
	}
	s, err := NewStore(fsys)
	require.NoError(t, err)

	_, err = s.Render("greet.tmpl", map[string]any{})
	require.Error(t, err)
	var undef *ErrUndefinedVariable
	assert.ErrorAs(t, err, &undef)
}

func TestRender_TemplateNotFound(t *testing.T) {
	s, err := NewStore(fstest.MapFS{})
	require.NoError(t, err)

	_, err = s.Render("missing.tmpl", nil)
	require.Error(t, err)
	var notFound *ErrTemplateNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestRender_Success(t *testing.T) {
	fsys := fstest.MapFS{
		"greet.tmpl": &fstest.MapFile{Data: []byte("  hello {{.Name}}  ")},
	}
	s, err := NewStore(fsys)
	require.NoError(t, err)

	out, err := s.Render("greet.tmpl", map[string]any{"Name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}
