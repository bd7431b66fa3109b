package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root talentsift configuration.
type Config struct {
	Source SourceConfig `yaml:"source"`
	Index  IndexConfig  `yaml:"index"`
	Ollama OllamaConfig `yaml:"ollama"`
	Search SearchConfig `yaml:"search"`
	Server ServerConfig `yaml:"server"`
}

// SourceConfig describes where resume files come from.
type SourceConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

// IndexConfig controls the persisted index and chunking parameters.
type IndexConfig struct {
	Path         string `yaml:"path"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Concurrency  int    `yaml:"concurrency"`
}

// OllamaConfig points at the local inference engine.
type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	EmbedModel string `yaml:"embed_model"`
	GenModel   string `yaml:"gen_model"`
}

// SearchConfig tunes query-time ranking.
type SearchConfig struct {
	TopK          int     `yaml:"top_k"`
	Breadth       int     `yaml:"breadth"`
	MinSimilarity float32 `yaml:"min_similarity"`
	Policy        string  `yaml:"policy"`
}

// ServerConfig configures the HTTP surface of `talentsift serve`.
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func defaults() Config {
	return Config{
		Source: SourceConfig{
			Dir:        "./resumes",
			Extensions: []string{".pdf", ".docx", ".doc", ".txt", ".md"},
		},
		Index: IndexConfig{
			Path:         defaultIndexPath(),
			ChunkSize:    800,
			ChunkOverlap: 160,
			Concurrency:  4,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			GenModel:   "llama3.2",
		},
		Search: SearchConfig{
			TopK:          5,
			Breadth:       20,
			MinSimilarity: 0.25,
			Policy:        "max",
		},
		Server: ServerConfig{
			Port: 4400,
		},
	}
}

func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "talentsift.db"
	}
	return filepath.Join(home, ".local", "share", "talentsift", "index.db")
}

// Load reads configuration from path, or from the default locations when
// path is empty: ./talentsift.yaml, then
// $XDG_CONFIG_HOME/talentsift/config.yaml. A missing file yields defaults.
// TALENTSIFT_* environment variables override file values.
func Load(path string) (Config, error) {
	cfg := defaults()

	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	if resolved != "" {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}

	if _, err := os.Stat("talentsift.yaml"); err == nil {
		return "talentsift.yaml", nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		configDir = filepath.Join(home, ".config")
	}
	userPath := filepath.Join(configDir, "talentsift", "config.yaml")
	if _, err := os.Stat(userPath); err == nil {
		return userPath, nil
	}
	return "", nil
}

func applyEnvOverrides(cfg *Config) {
	envString("TALENTSIFT_SOURCE_DIR", &cfg.Source.Dir)
	envString("TALENTSIFT_INDEX_PATH", &cfg.Index.Path)
	envInt("TALENTSIFT_CHUNK_SIZE", &cfg.Index.ChunkSize)
	envInt("TALENTSIFT_CHUNK_OVERLAP", &cfg.Index.ChunkOverlap)
	envInt("TALENTSIFT_CONCURRENCY", &cfg.Index.Concurrency)
	envString("TALENTSIFT_OLLAMA_URL", &cfg.Ollama.BaseURL)
	envString("TALENTSIFT_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	envString("TALENTSIFT_GEN_MODEL", &cfg.Ollama.GenModel)
	envInt("TALENTSIFT_TOP_K", &cfg.Search.TopK)
	envInt("TALENTSIFT_BREADTH", &cfg.Search.Breadth)
	envFloat32("TALENTSIFT_MIN_SIMILARITY", &cfg.Search.MinSimilarity)
	envString("TALENTSIFT_POLICY", &cfg.Search.Policy)
	envInt("TALENTSIFT_PORT", &cfg.Server.Port)
	envString("TALENTSIFT_TOKEN", &cfg.Server.Token)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", key, v, err)
		return
	}
	*dst = i
}

func envFloat32(key string, dst *float32) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", key, v, err)
		return
	}
	*dst = float32(f)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	if c.Source.Dir == "" {
		errs = append(errs, errors.New("source.dir must be set"))
	}
	if c.Index.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize))
	}
	if c.Index.ChunkOverlap <= 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, fmt.Errorf("index.chunk_overlap must be in (0, %d), got %d",
			c.Index.ChunkSize, c.Index.ChunkOverlap))
	}
	if c.Search.TopK <= 0 {
		errs = append(errs, fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK))
	}
	if c.Search.Breadth < c.Search.TopK {
		errs = append(errs, fmt.Errorf("search.breadth (%d) must be >= search.top_k (%d)",
			c.Search.Breadth, c.Search.TopK))
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity >= 1 {
		errs = append(errs, fmt.Errorf("search.min_similarity must be in [0, 1), got %g", c.Search.MinSimilarity))
	}
	if c.Search.Policy != "max" && c.Search.Policy != "mean" {
		errs = append(errs, fmt.Errorf("search.policy must be \"max\" or \"mean\", got %q", c.Search.Policy))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port))
	}

	return errors.Join(errs...)
}
