package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscape_MarkdownV2(t *testing.T) {
	got, err := Escape("_*[]()~`>#+-=|{}.!", DialectMarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!", got,
		"every reserved character escaped exactly once")

	got, err = Escape("plain text 123", DialectMarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, "plain text 123", got)
}

func TestEscape_NotIdempotent(t *testing.T) {
	once, err := Escape("a.b", DialectMarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, `a\.b`, once)

	twice, err := Escape(once, DialectMarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, `a\\.b`, twice, "escaping is applied blindly to already-escaped text")
}

func TestEscape_Markdown(t *testing.T) {
	got, err := Escape("_a_ *b* `c` [d].", DialectMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "\\_a\\_ \\*b\\* \\`c\\` \\[d].", got,
		"legacy markdown escapes only _ * ` [")
}

func TestEscape_HTML(t *testing.T) {
	got, err := Escape(`<b>&"quoted"</b>`, DialectHTML)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;&amp;&#34;quoted&#34;&lt;/b&gt;", got)
}

func TestEscape_None(t *testing.T) {
	got, err := Escape("_raw_ <b>", DialectNone)
	require.NoError(t, err)
	assert.Equal(t, "_raw_ <b>", got)
}

func TestEscape_UnsupportedDialect(t *testing.T) {
	_, err := Escape("x", Dialect("MarkdownV3"))
	require.Error(t, err)

	var ue *UnsupportedDialectError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, Dialect("MarkdownV3"), ue.Dialect)
}
