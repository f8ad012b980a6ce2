package saver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v2"

	"github.com/jmball/mqtt-saver/wire"
)

func runBundle(t *testing.T, key []byte, sign bool) []byte {
	t.Helper()
	bundle := map[string]interface{}{
		"args": map[string]interface{}{
			"run_name":        "test_1595938312",
			"run_name_suffix": "1595938312",
			"a_ovr_spin":      0.25,
			"light_recipe":    "AM1.5_1.0SUN",
		},
		"config": map[string]interface{}{
			"smu": map[string]interface{}{"address": "127.0.0.1", "baud": int64(57600)},
		},
		"devices": []interface{}{
			map[string]interface{}{
				"name": "iv",
				"pixels": []interface{}{
					map[string]interface{}{"substrate": "A", "pixel": int64(1), "label": "sa1", "area": 0.15},
					map[string]interface{}{"substrate": "A", "pixel": int64(2), "label": "sa2", "area": float64(-1), "dark_area": float64(-1)},
				},
			},
		},
	}
	if sign {
		digest, err := wire.ComputeRunDigest(bundle, key)
		require.NoError(t, err)
		bundle["digest"] = digest
	}
	b, err := msgpack.Marshal(bundle)
	require.NoError(t, err)
	return b
}

func newTestIngestor(t *testing.T) (*Ingestor, *RunContext, *enqueueSpy, []byte) {
	t.Helper()
	root := t.TempDir()
	rc := NewRunContext(root)
	spy := &enqueueSpy{}
	key := wire.DeriveKey("rig-secret")
	return NewIngestor(rc, key, spy.add), rc, spy, key
}

func TestIngestPersistsBundle(t *testing.T) {
	ing, rc, spy, key := newTestIngestor(t)

	require.NoError(t, ing.Ingest(runBundle(t, key, true)))
	require.True(t, rc.Active())
	assert.Equal(t, "1595938312", rc.Epoch)

	argsPath := filepath.Join(rc.Dir, "run_args_1595938312.yaml")
	configPath := filepath.Join(rc.Dir, "measurement_config_1595938312.yaml")
	tablePath := filepath.Join(rc.Dir, "iv_pixel_setup_1595938312.csv")

	var args map[string]interface{}
	raw, err := os.ReadFile(argsPath)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &args))
	assert.Equal(t, "AM1.5_1.0SUN", args["light_recipe"])

	raw, err = os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "smu")

	raw, err = os.ReadFile(tablePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3, "header plus two pixels")
	assert.Contains(t, lines[0], "area")

	// every produced file is queued for backup
	assert.ElementsMatch(t, []string{argsPath, configPath, tablePath}, spy.paths)
}

func TestIngestSubstitutesAreaSentinel(t *testing.T) {
	ing, rc, _, key := newTestIngestor(t)
	require.NoError(t, ing.Ingest(runBundle(t, key, true)))

	raw, err := os.ReadFile(filepath.Join(rc.Dir, "iv_pixel_setup_1595938312.csv"))
	require.NoError(t, err)
	content := string(raw)
	assert.NotContains(t, content, "-1", "sentinel areas replaced by the override")
	assert.Contains(t, content, "0.25")
	assert.Contains(t, content, "0.15", "real areas untouched")
}

func TestIngestRejectsBadDigest(t *testing.T) {
	ing, rc, spy, _ := newTestIngestor(t)

	wrongKey := wire.DeriveKey("not-the-rig-secret")
	err := ing.Ingest(runBundle(t, wrongKey, true))
	assert.ErrorIs(t, err, wire.ErrIntegrityMismatch)

	// no run, no directory, no files, no backup tasks
	assert.False(t, rc.Active())
	entries, rerr := os.ReadDir(rc.root)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
	assert.Empty(t, spy.paths)
}

func TestIngestWithoutDigestSkipsVerification(t *testing.T) {
	ing, rc, _, key := newTestIngestor(t)
	require.NoError(t, ing.Ingest(runBundle(t, key, false)))
	assert.True(t, rc.Active())
}

func TestIngestExistingRunDirUsesAlternate(t *testing.T) {
	ing, rc, _, key := newTestIngestor(t)
	require.NoError(t, os.Mkdir(filepath.Join(rc.root, "test_1595938312"), 0o755))

	require.NoError(t, ing.Ingest(runBundle(t, key, true)))
	assert.Equal(t, filepath.Join(rc.root, "test_1595938312_1595938312"), rc.Dir)
}
