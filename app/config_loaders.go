package arena

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

type ConfigLoader interface {
	Load() (*Config, error)
}

// DotEnvConfigLoader loads variables from the .env files into the environment
// before loading the configuration, so ARENA_* entries of a .env file behave like
// real environment variables. Variables already set in the environment win.
// Missing files are skipped.
type DotEnvConfigLoader struct {
	// Files defaults to .env in the working directory.
	Files []string
	// Paths are the directories searched for config.yaml.
	Paths []string
}

func (l *DotEnvConfigLoader) Load() (*Config, error) {
	files := l.Files
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return LoadConfig(l.Paths...)
}

// DefaultConfigLoader loads config.yaml from the working directory and the environment.
type DefaultConfigLoader struct {
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	return LoadConfig()
}
