package scenario

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cucumber/godog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

const checkoutFeature = `Feature: Checkout

  @TC1
  Scenario: First
    Given step "one"

  @TC2
  Scenario: Second
    Given step "two"

  @TC3
  Scenario: Third
    Given step "three"
`

func TestGodogTags(t *testing.T) {
	assert.Equal(t, "@TC1,@TC2", godogTags("@TC1 or @TC2"))
	assert.Equal(t, "@smoke && ~@wip", godogTags("@smoke and not @wip"))
	assert.Equal(t, "", godogTags("  "))
}

func TestGodogExecutor_Execute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.feature")
	require.NoError(t, os.WriteFile(path, []byte(checkoutFeature), 0o644))

	var (
		mu   sync.Mutex
		seen []string
	)
	registrar := func(fail string) StepRegistrar {
		return func(sc *godog.ScenarioContext) {
			sc.Step(`^step "([^"]*)"$`, func(ctx context.Context, name string) error {
				mu.Lock()
				seen = append(seen, name)
				mu.Unlock()
				if name == fail {
					return errors.New("boom")
				}
				return nil
			})
		}
	}

	newExecutor := func() *GodogExecutor {
		e := NewGodogExecutor(config.ScenarioConfig{Format: "progress", Strict: true}, &bytes.Buffer{}, zap.NewNop())
		e.Register("web", registrar(""))
		e.Register("failing", registrar("two"))
		return e
	}

	t.Run("should run only tagged scenarios", func(t *testing.T) {
		seen = nil
		ok, err := newExecutor().Execute(context.Background(), Request{Glue: "web", Tags: "@TC1 or @TC3", FeaturePath: path})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.ElementsMatch(t, []string{"one", "three"}, seen)
	})

	t.Run("should report a failing scenario", func(t *testing.T) {
		seen = nil
		ok, err := newExecutor().Execute(context.Background(), Request{Glue: "failing", Tags: "@TC2", FeaturePath: path})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"two"}, seen)
	})

	t.Run("should reject unknown glue", func(t *testing.T) {
		_, err := newExecutor().Execute(context.Background(), Request{Glue: "mobile", FeaturePath: path})
		assert.Error(t, err)
	})
}
