package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format,omitempty"` // console, json
	File   string `yaml:"file" json:"file,omitempty"`     // optional process-wide JSON log
	// PerAgentFiles writes <logs_dir>/<agent>_YYYYMMDD.log for every agent.
	PerAgentFiles *bool `yaml:"per_agent_files" json:"per_agent_files,omitempty"`
}

// AgentFilesEnabled defaults to true when unset.
func (c LoggingConfig) AgentFilesEnabled() bool {
	return c.PerAgentFiles == nil || *c.PerAgentFiles
}
