package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/imports"
	"github.com/banshee-data/soccer-diffusion/internal/indexcache"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// DatasetConfig configures import, indexing and loading. The same values
// must be used when importing a store and when reading samples from it.
type DatasetConfig struct {
	// Store
	Dialect *string `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	DSN     *string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// Resampling
	SamplingRateHz *float64 `json:"sampling_rate_hz,omitempty" yaml:"sampling_rate_hz,omitempty"`
	ImageMaxRateHz *float64 `json:"image_max_rate_hz,omitempty" yaml:"image_max_rate_hz,omitempty"`

	// Windows
	JointCommandHistory *int    `json:"joint_command_history,omitempty" yaml:"joint_command_history,omitempty"`
	JointStateHistory   *int    `json:"joint_state_history,omitempty" yaml:"joint_state_history,omitempty"`
	IMUHistory          *int    `json:"imu_history,omitempty" yaml:"imu_history,omitempty"`
	ImageHistory        *int    `json:"image_history,omitempty" yaml:"image_history,omitempty"`
	FutureLength        *int    `json:"future_length,omitempty" yaml:"future_length,omitempty"`
	Stride              *int    `json:"stride,omitempty" yaml:"stride,omitempty"`
	Orientation         *string `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	ImageWidth          *int    `json:"image_width,omitempty" yaml:"image_width,omitempty"`
	ImageHeight         *int    `json:"image_height,omitempty" yaml:"image_height,omitempty"`

	// Loading
	NumWorkers  *int   `json:"num_workers,omitempty" yaml:"num_workers,omitempty"`
	BatchSize   *int   `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	ShuffleSeed *int64 `json:"shuffle_seed,omitempty" yaml:"shuffle_seed,omitempty"`

	// Index cache, disabled unless an address is set
	RedisAddr     *string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword *string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       *int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	IndexCacheTTL *string `json:"index_cache_ttl,omitempty" yaml:"index_cache_ttl,omitempty"`
}

// DefaultDatasetConfig returns a config with every default filled in.
func DefaultDatasetConfig() *DatasetConfig {
	return &DatasetConfig{
		Dialect:             ptrString(string(store.SQLite)),
		DSN:                 ptrString("soccer_diffusion.db"),
		SamplingRateHz:      ptrFloat64(100),
		ImageMaxRateHz:      ptrFloat64(10),
		JointCommandHistory: ptrInt(100),
		JointStateHistory:   ptrInt(100),
		IMUHistory:          ptrInt(100),
		ImageHistory:        ptrInt(50),
		FutureLength:        ptrInt(10),
		Stride:              ptrInt(10),
		Orientation:         ptrString(dataset.OrientationQuaternion.String()),
		ImageWidth:          ptrInt(480),
		ImageHeight:         ptrInt(480),
		NumWorkers:          ptrInt(4),
		BatchSize:           ptrInt(64),
	}
}

var datasetDefaults = DefaultDatasetConfig()

func getInt(v, def *int) int {
	if v == nil {
		return *def
	}
	return *v
}

func getFloat64(v, def *float64) float64 {
	if v == nil {
		return *def
	}
	return *v
}

func getString(v, def *string) string {
	if v == nil || *v == "" {
		return *def
	}
	return *v
}

// GetDialect returns the store dialect or the default.
func (c *DatasetConfig) GetDialect() (store.Dialect, error) {
	return store.ParseDialect(getString(c.Dialect, datasetDefaults.Dialect))
}

// GetDSN returns the store DSN or the default.
func (c *DatasetConfig) GetDSN() string { return getString(c.DSN, datasetDefaults.DSN) }

func (c *DatasetConfig) GetSamplingRateHz() float64 {
	return getFloat64(c.SamplingRateHz, datasetDefaults.SamplingRateHz)
}

func (c *DatasetConfig) GetImageMaxRateHz() float64 {
	return getFloat64(c.ImageMaxRateHz, datasetDefaults.ImageMaxRateHz)
}

func (c *DatasetConfig) GetJointCommandHistory() int {
	return getInt(c.JointCommandHistory, datasetDefaults.JointCommandHistory)
}

func (c *DatasetConfig) GetJointStateHistory() int {
	return getInt(c.JointStateHistory, datasetDefaults.JointStateHistory)
}

func (c *DatasetConfig) GetIMUHistory() int { return getInt(c.IMUHistory, datasetDefaults.IMUHistory) }

func (c *DatasetConfig) GetImageHistory() int {
	return getInt(c.ImageHistory, datasetDefaults.ImageHistory)
}

func (c *DatasetConfig) GetFutureLength() int {
	return getInt(c.FutureLength, datasetDefaults.FutureLength)
}

func (c *DatasetConfig) GetStride() int { return getInt(c.Stride, datasetDefaults.Stride) }

// GetOrientation parses the orientation representation. An unknown name is
// an error, never a fallback to the default.
func (c *DatasetConfig) GetOrientation() (dataset.Orientation, error) {
	return dataset.ParseOrientation(getString(c.Orientation, datasetDefaults.Orientation))
}

func (c *DatasetConfig) GetImageWidth() int { return getInt(c.ImageWidth, datasetDefaults.ImageWidth) }

func (c *DatasetConfig) GetImageHeight() int {
	return getInt(c.ImageHeight, datasetDefaults.ImageHeight)
}

func (c *DatasetConfig) GetNumWorkers() int { return getInt(c.NumWorkers, datasetDefaults.NumWorkers) }

func (c *DatasetConfig) GetBatchSize() int { return getInt(c.BatchSize, datasetDefaults.BatchSize) }

// GetShuffleSeed returns the seed and whether shuffling is enabled.
func (c *DatasetConfig) GetShuffleSeed() (int64, bool) {
	if c.ShuffleSeed == nil {
		return 0, false
	}
	return *c.ShuffleSeed, true
}

// IndexCache returns the Redis options, or ok false when the cache is off.
func (c *DatasetConfig) IndexCache() (opts indexcache.Options, ok bool) {
	if c.RedisAddr == nil || *c.RedisAddr == "" {
		return indexcache.Options{}, false
	}
	opts.Addr = *c.RedisAddr
	if c.RedisPassword != nil {
		opts.Password = *c.RedisPassword
	}
	if c.RedisDB != nil {
		opts.DB = *c.RedisDB
	}
	return opts, true
}

// GetIndexCacheTTL returns how long cached boundaries live. Zero keeps them
// until invalidated.
func (c *DatasetConfig) GetIndexCacheTTL() time.Duration {
	if c.IndexCacheTTL == nil || *c.IndexCacheTTL == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(*c.IndexCacheTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Options returns the sample extraction options.
func (c *DatasetConfig) Options() (dataset.Options, error) {
	o, err := c.GetOrientation()
	if err != nil {
		return dataset.Options{}, err
	}
	opts := dataset.Options{
		SamplingRateHz:      c.GetSamplingRateHz(),
		JointCommandHistory: c.GetJointCommandHistory(),
		JointStateHistory:   c.GetJointStateHistory(),
		IMUHistory:          c.GetIMUHistory(),
		ImageHistory:        c.GetImageHistory(),
		FutureLength:        c.GetFutureLength(),
		Stride:              c.GetStride(),
		Orientation:         o,
		ImageWidth:          c.GetImageWidth(),
		ImageHeight:         c.GetImageHeight(),
	}
	return opts, opts.Validate()
}

// StrategyOptions returns the import converter options.
func (c *DatasetConfig) StrategyOptions() imports.StrategyOptions {
	return imports.StrategyOptions{
		SamplingRateHz: c.GetSamplingRateHz(),
		ImageMaxRateHz: c.GetImageMaxRateHz(),
		ImageWidth:     c.GetImageWidth(),
		ImageHeight:    c.GetImageHeight(),
	}
}

// Validate checks every value that is set.
func (c *DatasetConfig) Validate() error {
	if _, err := c.GetDialect(); err != nil {
		return err
	}
	if _, err := c.Options(); err != nil {
		return err
	}
	if c.GetImageMaxRateHz() <= 0 {
		return fmt.Errorf("image_max_rate_hz must be positive, got %v", c.GetImageMaxRateHz())
	}
	if c.GetNumWorkers() < 1 {
		return fmt.Errorf("num_workers must be at least 1, got %d", c.GetNumWorkers())
	}
	if c.GetBatchSize() < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.GetBatchSize())
	}
	if c.IndexCacheTTL != nil && *c.IndexCacheTTL != "" {
		if _, err := time.ParseDuration(*c.IndexCacheTTL); err != nil {
			return fmt.Errorf("invalid index_cache_ttl '%s': %w", *c.IndexCacheTTL, err)
		}
	}
	return nil
}
