package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"jobplane/internal/job"
)

// Defaults holds the system-wide resolution defaults: the lowest precedence
// level of the resource and image merges, plus path and timeout policy. Every
// compute-resource field is always populated so a merged job never ends up with
// a hole.
type Defaults struct {
	Resources       job.ComputeResources `yaml:"resources"`
	Images          map[string]job.Image `yaml:"images"`
	JobDirRoot      string               `yaml:"jobDirRoot"`
	ArchivePrefix   string               `yaml:"archivePrefix"`
	TimeoutSeconds  int                  `yaml:"timeoutSeconds"`
	AgentVersionMin string               `yaml:"agentVersionMin"`
}

// BuiltinDefaults returns the defaults used when no defaults file is configured.
func BuiltinDefaults() *Defaults {
	return &Defaults{
		Resources: job.ComputeResources{
			CPU:         job.IntPtr(1),
			GPU:         job.IntPtr(1),
			MemoryMB:    job.Int64Ptr(1536),
			DiskMB:      job.Int64Ptr(10240),
			NetworkMbps: job.Int64Ptr(100),
		},
		Images:         map[string]job.Image{},
		JobDirRoot:     "/tmp/jobplane/jobs",
		ArchivePrefix:  "s3://jobplane-archive/jobs",
		TimeoutSeconds: 604800, // 7 days
	}
}

// LoadDefaults reads the defaults YAML file at path, layering it over the
// built-in defaults so partial files are valid.
func LoadDefaults(path string) (*Defaults, error) {
	defaults := BuiltinDefaults()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read defaults file: %w", err)
	}
	if err := yaml.Unmarshal(data, defaults); err != nil {
		return nil, fmt.Errorf("failed to parse defaults file: %w", err)
	}

	if err := defaults.validate(); err != nil {
		return nil, err
	}
	return defaults, nil
}

func (d *Defaults) validate() error {
	r := d.Resources
	if r.CPU == nil || r.MemoryMB == nil || r.DiskMB == nil || r.NetworkMbps == nil || r.GPU == nil {
		return fmt.Errorf("defaults file must populate every compute resource field")
	}
	if *r.CPU < 1 || *r.GPU < 1 || *r.MemoryMB < 1 || *r.DiskMB < 1 || *r.NetworkMbps < 1 {
		return fmt.Errorf("default compute resources out of range")
	}
	if d.TimeoutSeconds < 1 {
		return fmt.Errorf("default timeout must be at least 1 second")
	}
	if d.JobDirRoot == "" {
		return fmt.Errorf("jobDirRoot must not be empty")
	}
	return nil
}
