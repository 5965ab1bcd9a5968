package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/imports"
	"github.com/banshee-data/soccer-diffusion/internal/indexcache"
	"github.com/banshee-data/soccer-diffusion/internal/live"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDatasetConfig_Defaults(t *testing.T) {
	cfg := &DatasetConfig{}
	require.NoError(t, cfg.Validate())

	d, err := cfg.GetDialect()
	require.NoError(t, err)
	assert.Equal(t, store.SQLite, d)
	assert.Equal(t, "soccer_diffusion.db", cfg.GetDSN())
	assert.Equal(t, 4, cfg.GetNumWorkers())
	assert.Equal(t, 64, cfg.GetBatchSize())
	_, shuffle := cfg.GetShuffleSeed()
	assert.False(t, shuffle)
	_, cache := cfg.IndexCache()
	assert.False(t, cache)
	assert.Equal(t, 24*time.Hour, cfg.GetIndexCacheTTL())

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, dataset.Options{
		SamplingRateHz:      100,
		JointCommandHistory: 100,
		JointStateHistory:   100,
		IMUHistory:          100,
		ImageHistory:        50,
		FutureLength:        10,
		Stride:              10,
		Orientation:         dataset.OrientationQuaternion,
		ImageWidth:          480,
		ImageHeight:         480,
	}, opts)
	assert.Equal(t, imports.DefaultStrategyOptions(), cfg.StrategyOptions())
}

func TestDefaultDatasetConfig_MatchesGetters(t *testing.T) {
	def := DefaultDatasetConfig()
	empty := &DatasetConfig{}
	a, err := def.Options()
	require.NoError(t, err)
	b, err := empty.Options()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, def.StrategyOptions(), empty.StrategyOptions())
}

func TestLoadDatasetConfig_YAML(t *testing.T) {
	path := writeFile(t, "dataset.yaml", `
dialect: postgres
dsn: postgres://trainer@db/soccer
sampling_rate_hz: 50
future_length: 20
stride: 5
orientation: five_dim
image_width: 224
image_height: 224
shuffle_seed: 42
redis_addr: localhost:6379
redis_db: 2
index_cache_ttl: 1h
`)
	cfg, err := LoadDatasetConfig(path)
	require.NoError(t, err)

	d, _ := cfg.GetDialect()
	assert.Equal(t, store.Postgres, d)
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, 50.0, opts.SamplingRateHz)
	assert.Equal(t, 20, opts.FutureLength)
	assert.Equal(t, 5, opts.Stride)
	assert.Equal(t, dataset.OrientationFiveDim, opts.Orientation)
	assert.Equal(t, 100, opts.JointStateHistory, "unset fields keep their defaults")
	seed, ok := cfg.GetShuffleSeed()
	assert.True(t, ok)
	assert.Equal(t, int64(42), seed)
	rc, ok := cfg.IndexCache()
	assert.True(t, ok)
	assert.Equal(t, indexcache.Options{Addr: "localhost:6379", DB: 2}, rc)
	assert.Equal(t, time.Hour, cfg.GetIndexCacheTTL())
}

func TestLoadDatasetConfig_JSON(t *testing.T) {
	path := writeFile(t, "dataset.json", `{"image_history": 8, "batch_size": 16}`)
	cfg, err := LoadDatasetConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.GetImageHistory())
	assert.Equal(t, 16, cfg.GetBatchSize())
}

func TestLoadDatasetConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"extension", "dataset.toml", `stride = 1`, "extension"},
		{"json syntax", "dataset.json", `{"stride": }`, "parse config JSON"},
		{"yaml syntax", "dataset.yml", "stride: [", "parse config YAML"},
		{"orientation", "dataset.yaml", "orientation: euler", "unknown orientation"},
		{"stride", "dataset.yaml", "stride: 0", "stride"},
		{"dialect", "dataset.yaml", "dialect: mysql", "mysql"},
		{"workers", "dataset.yaml", "num_workers: 0", "num_workers"},
		{"rate", "dataset.yaml", "image_max_rate_hz: -1", "image_max_rate_hz"},
		{"ttl", "dataset.yaml", "index_cache_ttl: soon", "index_cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDatasetConfig(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadDatasetConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDatasetConfig_UnknownOrientationIsNotDefaulted(t *testing.T) {
	_, err := LoadDatasetConfig(writeFile(t, "dataset.json", `{"orientation": "euler"}`))
	assert.True(t, errors.Is(err, dataset.ErrUnknownOrientation))
}

func TestLoadDatasetConfig_TooLarge(t *testing.T) {
	big := "# " + strings.Repeat("x", maxFileSize) + "\n"
	_, err := LoadDatasetConfig(writeFile(t, "dataset.yaml", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLiveConfig(t *testing.T) {
	path := writeFile(t, "live.yaml", `
model:
  future_length: 20
  image_history: 4
  image_width: 64
  image_height: 48
  orientation: five_dim
feed: mqtt
mqtt:
  broker: tcp://localhost:1883
  client_id: amy
topic_prefix: robots/amy
model_url: http://model:8000
model_timeout: 250ms
orientation_strategy: transform_derived
mount: {x: 0, y: 0.0998, z: 0, w: 0.995}
robot_type: Wolfgang-OP
`)
	cfg, err := LoadLiveConfig(path)
	require.NoError(t, err)
	assert.Equal(t, FeedMQTT, cfg.GetFeed())
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "robots/amy", cfg.GetTopicPrefix())
	assert.Equal(t, "http://model:8000", cfg.GetModelURL())
	assert.Equal(t, 250*time.Millisecond, cfg.GetModelTimeout())
	assert.Equal(t, "", cfg.GetAdminListen())

	strategy, err := cfg.GetOrientationStrategy()
	require.NoError(t, err)
	assert.Equal(t, live.TransformDerived{Mount: schema.Quaternion{Y: 0.0998, W: 0.995}}, strategy)

	bc, err := cfg.BufferConfig()
	require.NoError(t, err)
	assert.Equal(t, 20, bc.FutureLength)
	assert.Equal(t, dataset.OrientationFiveDim, bc.Orientation)
	assert.Equal(t, float64(live.DefaultImageRateHz), bc.ImageRateHz)
	assert.Equal(t, "Wolfgang-OP", bc.RobotType)
}

func TestLiveConfig_Serial(t *testing.T) {
	cfg, err := LoadLiveConfig(writeFile(t, "live.json", `{
		"feed": "serial",
		"serial_path": "/dev/ttyACM0",
		"serial": {"baud_rate": 921600},
		"orientation_strategy": "direct_sensor"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPath())
	assert.Equal(t, 921600, cfg.Serial.BaudRate)
	assert.Equal(t, time.Second, cfg.GetModelTimeout())
	assert.Equal(t, "robot", cfg.GetTopicPrefix())
}

func TestLiveConfig_Errors(t *testing.T) {
	broker := `"mqtt": {"broker": "tcp://localhost:1883"}`
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"no strategy", `{` + broker + `}`, live.ErrNoOrientationStrategy},
		{"unknown strategy", `{` + broker + `, "orientation_strategy": "tf"}`, live.ErrNoOrientationStrategy},
		{"model orientation", `{` + broker + `, "orientation_strategy": "direct_sensor", "model": {"orientation": "euler"}}`, dataset.ErrUnknownOrientation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadLiveConfig(writeFile(t, "live.json", tt.content))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	for name, content := range map[string]string{
		"no broker":  `{"orientation_strategy": "direct_sensor"}`,
		"feed":       `{"feed": "udp", "orientation_strategy": "direct_sensor"}`,
		"serial":     `{"feed": "serial", "serial": {"parity": "mark"}, "orientation_strategy": "direct_sensor"}`,
		"mount":      `{` + broker + `, "orientation_strategy": "transform_derived", "mount": {"x": 3}}`,
		"timeout":    `{` + broker + `, "orientation_strategy": "direct_sensor", "model_timeout": "fast"}`,
		"robot type": `{` + broker + `, "orientation_strategy": "direct_sensor", "robot_type": "Darwin-OP"}`,
		"image rate": `{` + broker + `, "orientation_strategy": "direct_sensor", "image_rate_hz": 0}`,
	} {
		_, err := LoadLiveConfig(writeFile(t, "live.json", content))
		assert.Error(t, err, name)
	}
}

func TestPointerHelpers(t *testing.T) {
	assert.Equal(t, int64(7), *ptrInt64(7))
	assert.Equal(t, 1.5, *ptrFloat64(1.5))
}
