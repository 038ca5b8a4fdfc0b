package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/hybridkb/internal/auth"
	"github.com/knoguchi/hybridkb/internal/config"
)

func TestParseDocuments(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		docs, err := parseDocuments(strings.NewReader(`[{"id":"a","text":"alpha"},{"id":"b","text":"beta","metadata":{"lang":"en"}}]`))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b", docs[1].ID)
		assert.Equal(t, "en", docs[1].Metadata["lang"])
	})

	t.Run("lines", func(t *testing.T) {
		input := "{\"id\":\"a\",\"text\":\"alpha\"}\n\n{\"id\":\"b\",\"text\":\"beta\",\"source\":\"wiki\"}\n"
		docs, err := parseDocuments(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "wiki", docs[1].Source)
	})

	t.Run("bad line", func(t *testing.T) {
		_, err := parseDocuments(strings.NewReader("{\"id\":\"a\"}\nnot json\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := parseDocuments(strings.NewReader("  \n"))
		assert.Error(t, err)
	})
}

func TestParseFilters(t *testing.T) {
	f, err := parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = parseFilters([]string{"lang=en", "url=http://x?a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "en", "url": "http://x?a=b"}, f)

	_, err = parseFilters([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseFilters([]string{"=x"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("WARN").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("error").Enabled(ctx, slog.LevelError))
	assert.True(t, newLogger("bogus").Enabled(ctx, slog.LevelInfo))
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--subject", "svc", "--namespace", "docs"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret")).ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Subject)
	assert.True(t, claims.AllowsNamespace("docs"))
	assert.False(t, claims.AllowsNamespace("other"))
}

func TestBuildReranker_Default(t *testing.T) {
	rr, err := buildReranker(&config.Config{Reranker: config.RerankerNone}, slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, rr)

	t.Setenv("CO_API_KEY", "")
	_, err = buildReranker(&config.Config{Reranker: config.RerankerCohere, RerankNResults: 3}, slog.Default())
	assert.Error(t, err, "cohere without an API key")
}
