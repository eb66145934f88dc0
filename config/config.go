package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chaos-io/bgstrip/mask"
)

const DefaultGlob = "icon_*.png"

// Config 任务文件
type Config struct {
	Schedule string `yaml:"schedule"`
	Server   Server `yaml:"server"`
	Jobs     []Job  `yaml:"jobs"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Job 单个文件（Path）或目录下按 Glob 匹配的一批文件（Dir）
type Job struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Dir       string `yaml:"dir"`
	Glob      string `yaml:"glob"`
	URL       string `yaml:"url"`
	Out       string `yaml:"out"`
	Policy    string `yaml:"policy"`
	Threshold int    `yaml:"threshold"`
	MaxSize   int    `yaml:"max_size"`
}

// Load 读取并校验 YAML 任务文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验并补齐默认值
func (c *Config) Validate() error {
	if len(c.Jobs) == 0 && c.Server.Addr == "" {
		return errors.New("config has no jobs and no server")
	}
	for i := range c.Jobs {
		if err := c.Jobs[i].normalize(); err != nil {
			return fmt.Errorf("job %d (%s): %w", i, c.Jobs[i].Name, err)
		}
	}
	return nil
}

func (j *Job) normalize() error {
	set := 0
	for _, s := range []string{j.Path, j.Dir, j.URL} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of path, dir or url is required")
	}
	if j.URL != "" && j.Out == "" {
		return errors.New("url job needs out")
	}

	if j.Dir != "" && j.Glob == "" {
		j.Glob = DefaultGlob
	}

	if j.Policy == "" {
		j.Policy = mask.PolicySampled
		if j.Dir != "" {
			j.Policy = mask.PolicyFixed
		}
	}
	if j.Policy != mask.PolicySampled && j.Policy != mask.PolicyFixed {
		return fmt.Errorf("%w: %q", mask.ErrUnknownPolicy, j.Policy)
	}

	if j.Threshold == 0 {
		j.Threshold = mask.DefaultDarkThreshold
	}
	if j.Threshold < 1 || j.Threshold > 255 {
		return fmt.Errorf("threshold %d out of range [1,255]", j.Threshold)
	}
	if j.MaxSize < 0 {
		return fmt.Errorf("max_size %d must not be negative", j.MaxSize)
	}
	return nil
}

// Write 把配置写回 YAML
func Write(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
