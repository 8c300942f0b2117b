package prometheus

// Config for the metrics exporter.
type Config struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	Address          string `yaml:"address" json:"address"` // ":9090"
	Path             string `yaml:"path" json:"path"`
	Namespace        string `yaml:"namespace" json:"namespace"`
	Subsystem        string `yaml:"subsystem" json:"subsystem"`
	CollectGoMetrics *bool  `yaml:"collect_go_metrics" json:"collect_go_metrics"`
	CollectProcess   *bool  `yaml:"collect_process" json:"collect_process"`
}

func ApplyDefaults(c *Config) {
	if c.Address == "" {
		c.Address = ":9090"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
	on := true
	if c.CollectGoMetrics == nil {
		c.CollectGoMetrics = &on
	}
	if c.CollectProcess == nil {
		c.CollectProcess = &on
	}
}
