package lib

/* config.go parses krill config files. Config files use gcfg's INI-style
format. See example.config in the repository root for a commented example. */

import (
	"fmt"

	"gopkg.in/gcfg.v1"
)

// Config stores the variables read from a krill config file.
type Config struct {
	Domain struct {
		// NDim is the number of active spatial axes, 1 - 3.
		NDim int
		// Global domain bounds. Axes beyond NDim are ignored.
		XMin, XMax float64
		YMin, YMax float64
		ZMin, ZMax float64
	}
	Mesh struct {
		// Blocks per axis. Axes beyond NDim are forced to 1.
		NX, NY, NZ int
	}
	Particles struct {
		// PerBlock is the number of particles seeded on each block.
		PerBlock int
		// Step is the maximum per-axis displacement per timestep.
		Step float64
		// Seed seeds the per-block random number generators.
		Seed int64
	}
	Run struct {
		Steps int
		// Ranks is the size of the in-process communicator world.
		Ranks int
		Threads int
		// PoolSize is the starting pool capacity of each block.
		PoolSize int
		// Compress turns on zstd compression of remote payloads.
		Compress bool
	}
}

// DefaultConfig returns the configuration used for fields the config file
// doesn't set.
func DefaultConfig() *Config {
	cfg := &Config{ }

	cfg.Domain.NDim = 3
	cfg.Domain.XMax, cfg.Domain.YMax, cfg.Domain.ZMax = 10, 10, 10
	cfg.Mesh.NX, cfg.Mesh.NY, cfg.Mesh.NZ = 2, 2, 2
	cfg.Particles.PerBlock = 100
	cfg.Particles.Step = 0.1
	cfg.Particles.Seed = 1
	cfg.Run.Steps = 10
	cfg.Run.Ranks = 1
	cfg.Run.Threads = -1
	cfg.Run.PoolSize = 128

	return cfg
}

// ParseConfigFile reads a config file, fills unset fields with defaults, and
// validates the result.
func ParseConfigFile(fileName string) (*Config, error) {
	cfg := DefaultConfig()
	if err := gcfg.ReadFileInto(cfg, fileName); err != nil {
		return nil, fmt.Errorf("Could not parse the config file '%s': %v", fileName, err)
	}
	if err := cfg.Validate(); err != nil { return nil, err }
	return cfg, nil
}

// Validate checks that a Config describes a runnable setup.
func (cfg *Config) Validate() error {
	ndim := cfg.Domain.NDim
	if ndim < 1 || ndim > 3 {
		return fmt.Errorf("The config variable NDim is %d, but it must be 1, 2, or 3.", ndim)
	}

	min := []float64{ cfg.Domain.XMin, cfg.Domain.YMin, cfg.Domain.ZMin }
	max := []float64{ cfg.Domain.XMax, cfg.Domain.YMax, cfg.Domain.ZMax }
	axes := []string{ "X", "Y", "Z" }
	for d := 0; d < ndim; d++ {
		if max[d] <= min[d] {
			return fmt.Errorf("The config variables %sMin = %g and %sMax = %g describe an empty domain axis.", axes[d], min[d], axes[d], max[d])
		}
	}

	if ndim < 3 { cfg.Mesh.NZ = 1 }
	if ndim < 2 { cfg.Mesh.NY = 1 }
	n := []int{ cfg.Mesh.NX, cfg.Mesh.NY, cfg.Mesh.NZ }
	nBlocks := 1
	for d := 0; d < 3; d++ {
		if n[d] < 1 {
			return fmt.Errorf("The config variable N%s is %d, but every axis needs at least one block.", axes[d], n[d])
		}
		nBlocks *= n[d]
	}

	if cfg.Run.Ranks < 1 {
		return fmt.Errorf("The config variable Ranks is %d, but it must be positive.", cfg.Run.Ranks)
	}
	if nBlocks%cfg.Run.Ranks != 0 {
		return fmt.Errorf("The mesh has %d blocks, which cannot be split evenly across %d ranks. Krill requires the same number of blocks on every rank so that the per-cycle barriers line up.", nBlocks, cfg.Run.Ranks)
	}

	if cfg.Particles.PerBlock < 0 {
		return fmt.Errorf("The config variable PerBlock is %d, but it cannot be negative.", cfg.Particles.PerBlock)
	}
	if cfg.Run.Steps < 0 {
		return fmt.Errorf("The config variable Steps is %d, but it cannot be negative.", cfg.Run.Steps)
	}
	if cfg.Run.PoolSize < 1 {
		return fmt.Errorf("The config variable PoolSize is %d, but it must be positive.", cfg.Run.PoolSize)
	}

	return nil
}
