package config

// Config is the full daemon configuration, decoded strictly: unknown keys
// are rejected so typos surface at load time instead of silently doing
// nothing.
type Config struct {
	// BaseAppURL prefixes the UI links embedded in notifications, e.g.
	// "https://xyops.example.com".
	BaseAppURL string `json:"base_app_url"`

	// SecretKey signs log-download links in hook payloads.
	SecretKey string `json:"secret_key"`

	// DataFile is the YAML or JSON file holding the events, plugins,
	// categories, channels, web hooks and servers.
	DataFile string `json:"data_file"`

	// TempDir stages scheduler plugin scripts. Defaults to the OS temp
	// dir.
	TempDir string `json:"temp_dir,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Mail      *MailConfig     `json:"mail,omitempty"`
	Actions   ActionsConfig   `json:"actions,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls trigger evaluation.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is applied to schedule triggers without an explicit one.
	// Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer (catch-up cursors
// and the transaction log).
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./xyops.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the Prometheus scrape endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9190") unless the scrape
// network is trusted.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9190"
}

// MailConfig is the SMTP transport for email actions. If the whole section
// is omitted, email actions fail with a descriptive result instead of
// sending.
type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

// ActionsConfig carries the notification-side settings.
type ActionsConfig struct {
	// EmailTemplateDir holds job_start.txt, job_success.txt and
	// job_fail.txt.
	EmailTemplateDir string `json:"email_template_dir,omitempty"`

	// Hooks maps system hook names (or "*") to a bare URL, a bare web
	// hook id, or an object with url / web_hook / shell_exec keys.
	Hooks map[string]any `json:"hooks,omitempty"`

	// HookTextTemplates supplies the short outcome summaries keyed
	// job_start, job_complete, job_success, job_error, ...
	HookTextTemplates map[string]string `json:"hook_text_templates,omitempty"`

	// WebHookCustomData is merged into every system hook payload.
	WebHookCustomData map[string]any `json:"web_hook_custom_data,omitempty"`
}
