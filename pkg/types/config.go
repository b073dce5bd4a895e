package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "registry-reconciler/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// FetchConfig holds settings for the paginated fetch stage.
type FetchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the collection endpoint; the page number is sent as ?page=N.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Headers are sent with every page request in addition to
	// "accept: application/json".
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`

	// MaxRetries is the number of retries per page on a transient failure.
	// Nil selects DefaultMaxRetries; zero disables retries.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" mapstructure:"max_retries"`

	// BaseDelay is the backoff unit; retry n waits BaseDelay*n (default 5s).
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`

	// Workers bounds concurrent page fetches. 1 fetches sequentially.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// Retries returns MaxRetries, or DefaultMaxRetries when it is unset or
// negative.
func (c FetchConfig) Retries() int {
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// IntPtr returns a pointer to v, for optional integer settings.
func IntPtr(v int) *int {
	return &v
}

// ClassifyConfig holds the lifecycle classification rules.
type ClassifyConfig struct {
	// CategoryOverrides forces the format of organisations by exact title.
	CategoryOverrides map[string]string `json:"category_overrides" yaml:"category_overrides" mapstructure:"category_overrides"`

	// OverridesFile is an optional YAML map of title to format merged over
	// CategoryOverrides.
	OverridesFile string `json:"overrides_file,omitempty" yaml:"overrides_file,omitempty" mapstructure:"overrides_file"`

	// ExcludedCategories flags organisations of these formats with reason "format".
	ExcludedCategories []string `json:"excluded_categories" yaml:"excluded_categories" mapstructure:"excluded_categories"`

	// ExcludedStatuses flags organisations in these statuses with reason "govuk_status".
	ExcludedStatuses []string `json:"excluded_statuses" yaml:"excluded_statuses" mapstructure:"excluded_statuses"`

	// ClosedStatuses are govuk_closed_status values that mean the organisation
	// has definitely closed.
	ClosedStatuses []string `json:"closed_statuses" yaml:"closed_statuses" mapstructure:"closed_statuses"`

	// Since limits the possible-new and possible-closed reports to
	// appearances on or after this YYYYMMDD date. Empty means no limit.
	Since string `json:"since" yaml:"since" mapstructure:"since"`

	// KeepStatusExcluded retains status-excluded entities when computing
	// series bounds. The default drops them before grouping.
	KeepStatusExcluded bool `json:"keep_status_excluded" yaml:"keep_status_excluded" mapstructure:"keep_status_excluded"`
}

// MatchConfig holds settings for matching against the authoritative list.
type MatchConfig struct {
	// ScoreCutoff is the minimum 0-100 similarity for a match (default 90).
	ScoreCutoff float64 `json:"score_cutoff" yaml:"score_cutoff" mapstructure:"score_cutoff"`

	// AuthorityFile is the CSV or YAML file holding the authoritative list.
	AuthorityFile string `json:"authority_file" yaml:"authority_file" mapstructure:"authority_file"`

	// NameColumn is the authoritative list column holding organisation names.
	NameColumn string `json:"name_column" yaml:"name_column" mapstructure:"name_column"`
}

// StoreConfig holds settings for the relational store.
type StoreConfig struct {
	// Driver selects the database/sql driver: sqlite3 or pgx.
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// DSN is the data source name (a file path for sqlite3).
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`

	// Schema qualifies table names on drivers that support schemas.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty" mapstructure:"schema"`

	// Table is the persisted snapshot table (default "govuk_orgs").
	Table string `json:"table" yaml:"table" mapstructure:"table"`

	// ChangeTable receives the change log (default "govuk_orgs_changes").
	ChangeTable string `json:"change_table" yaml:"change_table" mapstructure:"change_table"`

	// SchemaVersion selects the persisted table layout: v1 or v2.
	SchemaVersion string `json:"schema_version" yaml:"schema_version" mapstructure:"schema_version"`
}

// OutputConfig selects the tabular sink.
type OutputConfig struct {
	// Dir is the directory tables are written to.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// Format is csv, yaml, or json.
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// Store also writes every table into the relational store, replacing
	// the rows of a table with the same name.
	Store bool `json:"store,omitempty" yaml:"store,omitempty" mapstructure:"store"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
	Output string `json:"output" yaml:"output" mapstructure:"output"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch" mapstructure:"fetch"`
	Classify ClassifyConfig `json:"classify" yaml:"classify" mapstructure:"classify"`
	Match    MatchConfig    `json:"match" yaml:"match" mapstructure:"match"`
	Store    StoreConfig    `json:"store" yaml:"store" mapstructure:"store"`
	Output   OutputConfig   `json:"output" yaml:"output" mapstructure:"output"`
	Log      LogConfig      `json:"log" yaml:"log" mapstructure:"log"`

	// MetricsFile, when set, receives Prometheus metrics in text format
	// at the end of a run.
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty" mapstructure:"metrics_file"`
}

// Defaults for the organisations feed.
const (
	DefaultBaseURL     = "https://www.gov.uk/api/organisations"
	DefaultMaxRetries  = 5
	DefaultBaseDelay   = 5 * time.Second
	DefaultScoreCutoff = 90
	DefaultNameColumn  = "overall_organisation"
	DefaultTable       = "govuk_orgs"
	DefaultChangeTable = "govuk_orgs_changes"
)

// DefaultCategoryOverrides corrects organisations the feed miscategorises.
// Ordnance Survey (D38) is a public corporation and is left as "Other".
func DefaultCategoryOverrides() map[string]string {
	return map[string]string{
		"Department for Business, Energy & Industrial Strategy": "Ministerial department",
		"Department for Digital, Culture, Media & Sport":        "Ministerial department",
		"Department for International Trade":                    "Ministerial department",
		"Department for Levelling Up, Housing and Communities":  "Ministerial department",
		"Office of the Secretary of State for Scotland":         "Ministerial department",
		"Office of the Secretary of State for Wales":            "Ministerial department",
		"Office for National Statistics":                        "Executive office",
	}
}

// DefaultExcludedCategories lists formats outside the scope of the registry.
func DefaultExcludedCategories() []string {
	return []string{
		"Civil service",
		"Court",
		"Devolved administration",
		"Executive office",
		"Ministerial department",
		"Sub organisation",
		"Tribunal",
	}
}

// DefaultExcludedStatuses lists statuses that remove an organisation from scope.
func DefaultExcludedStatuses() []string {
	return []string{string(StatusClosed), string(StatusDevolved), string(StatusJoining)}
}

// DefaultClosedStatuses lists govuk_closed_status values meaning "closed".
func DefaultClosedStatuses() []string {
	return []string{"changed_name", "left_gov", "merged", "no_longer_exists", "replaced", "split"}
}

// DefaultPipelineConfig returns a configuration with every default applied.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Fetch: FetchConfig{
			HTTPConfig: HTTPConfig{Timeout: 60 * time.Second, UserAgent: "registry-reconciler/0.1"},
			BaseURL:    DefaultBaseURL,
			MaxRetries: IntPtr(DefaultMaxRetries),
			BaseDelay:  DefaultBaseDelay,
			Workers:    1,
		},
		Classify: ClassifyConfig{
			CategoryOverrides:  DefaultCategoryOverrides(),
			ExcludedCategories: DefaultExcludedCategories(),
			ExcludedStatuses:   DefaultExcludedStatuses(),
			ClosedStatuses:     DefaultClosedStatuses(),
		},
		Match: MatchConfig{
			ScoreCutoff: DefaultScoreCutoff,
			NameColumn:  DefaultNameColumn,
		},
		Store: StoreConfig{
			Driver:        "sqlite3",
			DSN:           "output/registry.db",
			Table:         DefaultTable,
			ChangeTable:   DefaultChangeTable,
			SchemaVersion: string(SchemaV2),
		},
		Output: OutputConfig{Dir: "output", Format: "csv"},
		Log:    LogConfig{Level: "info", Format: "auto", Output: "stderr"},
	}
}

// WithDefaults fills zero-valued settings from DefaultPipelineConfig.
// Category and status lists are replaced only when nil, so an explicitly
// empty list disables the rule.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if c.Fetch.BaseURL == "" {
		c.Fetch.BaseURL = d.Fetch.BaseURL
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = d.Fetch.UserAgent
	}
	if c.Fetch.MaxRetries == nil || *c.Fetch.MaxRetries < 0 {
		c.Fetch.MaxRetries = d.Fetch.MaxRetries
	}
	if c.Fetch.BaseDelay <= 0 {
		c.Fetch.BaseDelay = d.Fetch.BaseDelay
	}
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = d.Fetch.Workers
	}
	if c.Classify.CategoryOverrides == nil {
		c.Classify.CategoryOverrides = d.Classify.CategoryOverrides
	}
	if c.Classify.ExcludedCategories == nil {
		c.Classify.ExcludedCategories = d.Classify.ExcludedCategories
	}
	if c.Classify.ExcludedStatuses == nil {
		c.Classify.ExcludedStatuses = d.Classify.ExcludedStatuses
	}
	if c.Classify.ClosedStatuses == nil {
		c.Classify.ClosedStatuses = d.Classify.ClosedStatuses
	}
	if c.Match.ScoreCutoff <= 0 {
		c.Match.ScoreCutoff = d.Match.ScoreCutoff
	}
	if c.Match.NameColumn == "" {
		c.Match.NameColumn = d.Match.NameColumn
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.DSN == "" && c.Store.Driver == d.Store.Driver {
		c.Store.DSN = d.Store.DSN
	}
	if c.Store.Table == "" {
		c.Store.Table = d.Store.Table
	}
	if c.Store.ChangeTable == "" {
		c.Store.ChangeTable = d.Store.ChangeTable
	}
	if c.Store.SchemaVersion == "" {
		c.Store.SchemaVersion = d.Store.SchemaVersion
	}
	if c.Output.Dir == "" {
		c.Output.Dir = d.Output.Dir
	}
	if c.Output.Format == "" {
		c.Output.Format = d.Output.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
	return c
}
