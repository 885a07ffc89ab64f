package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Telegram struct {
		Token     string `yaml:"token" json:"token" jsonschema:"required,description=Telegram bot token (supports env expansion)"`
		AdminChat string `yaml:"admin_chat" json:"admin_chat" jsonschema:"description=Chat id receiving the end-of-run report"`
	} `yaml:"telegram" json:"telegram" jsonschema:"description=Telegram credentials"`

	Schedule struct {
		DefaultInterval int  `yaml:"default_interval" json:"default_interval" jsonschema:"default=30,description=Default feed poll interval in minutes"`
		Jitter          bool `yaml:"jitter" json:"jitter" jsonschema:"default=false,description=Allow slightly early fetches to spread load across runs"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Polling configuration"`

	Fetch struct {
		Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP timeout per feed fetch"`
		UserAgent  string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=telegram-rss-bot/1.0,description=User agent for feed requests"`
		PerHostRPS float64       `yaml:"per_host_rps" json:"per_host_rps" jsonschema:"default=1,description=Max requests per second against a single host"`
	} `yaml:"fetch" json:"fetch" jsonschema:"description=Feed fetching configuration"`

	Database struct {
		DSN string `yaml:"dsn" json:"dsn" jsonschema:"default=file:rssbot.db?cache=shared&mode=rwc,description=SQLite connection string for persisted run state"`
	} `yaml:"database" json:"database" jsonschema:"description=State persistence configuration"`

	Feeds  []Feed  `yaml:"feeds" json:"feeds" jsonschema:"description=Polled sources"`
	Groups []Group `yaml:"groups" json:"groups" jsonschema:"description=Named aggregations of feeds and other groups"`

	// Destinations maps a chat id to the single group it is subscribed to.
	Destinations map[string]string `yaml:"destinations" json:"destinations" jsonschema:"description=Chat id to group name bindings"`
}

// Feed describes a single polled source. The raw mapping is kept alongside
// the typed fields because expand_from inheritance and group overlays operate
// on generic trees (see merge.go).
type Feed struct {
	Name           string            `yaml:"name" json:"name" jsonschema:"required"`
	URL            string            `yaml:"url" json:"url"`
	Method         string            `yaml:"method" json:"method" jsonschema:"default=GET"`
	Headers        map[string]string `yaml:"headers" json:"headers,omitempty"`
	SourceType     string            `yaml:"source_type" json:"source_type" jsonschema:"default=XML,enum=XML,enum=HTML,enum=JSON"`
	ItemSelector   string            `yaml:"item_selector" json:"item_selector,omitempty"`
	FieldSelectors map[string]string `yaml:"field_selectors" json:"field_selectors,omitempty"`
	Interval       int               `yaml:"interval" json:"interval,omitempty" jsonschema:"description=Poll interval in minutes"`
	IDExpr         string            `yaml:"id_expr" json:"id_expr,omitempty"`
	SortKeyExpr    string            `yaml:"sort_key_expr" json:"sort_key_expr,omitempty"`
	DefaultSortKey string            `yaml:"default_sort_key" json:"default_sort_key,omitempty"`
	ExpandFrom     []string          `yaml:"expand_from" json:"expand_from,omitempty"`
	FieldOverlay   map[string]string `yaml:"field_overlay" json:"field_overlay,omitempty"`
	Message        *Message          `yaml:"message" json:"message,omitempty"`

	raw map[string]any
}

// Group is a named set of feeds and sub-groups sharing an overlay. Everything
// except name and members is the overlay, merged on top of each included
// feed's configuration.
type Group struct {
	Name    string   `yaml:"name" json:"name" jsonschema:"required"`
	Members []string `yaml:"members" json:"members"`

	IDExpr       string            `yaml:"id_expr" json:"id_expr,omitempty"`
	SortKeyExpr  string            `yaml:"sort_key_expr" json:"sort_key_expr,omitempty"`
	FieldOverlay map[string]string `yaml:"field_overlay" json:"field_overlay,omitempty"`
	Message      *Message          `yaml:"message" json:"message,omitempty"`

	raw map[string]any
}

// Message describes how an item is turned into an outbound call: the
// send<Type> method suffix and its argument templates.
type Message struct {
	Type string            `yaml:"type" json:"type" jsonschema:"default=Message"`
	Args map[string]string `yaml:"args" json:"args,omitempty"`
}

// defaults target plain RSS 2.0 documents, the shape the bot assumes when a
// feed does not configure its own selectors
const (
	DefaultItemSelector = "rss.channel.item"
	DefaultIDExpr       = "link"
	DefaultSortKey      = "0"
	DefaultMessageText  = "{title}\n{description}\n{pubDate}\n{link}"
)

// DefaultFieldSelectors returns the standard RSS field set extracted when a
// feed does not override field_selectors.
func DefaultFieldSelectors() map[string]string {
	return map[string]string{
		"link":        "link",
		"title":       "title",
		"description": "description",
		"pubDate":     "pubDate",
	}
}

// UnmarshalYAML keeps the raw mapping next to the decoded fields
func (f *Feed) UnmarshalYAML(n *yaml.Node) error {
	if err := n.Decode(&f.raw); err != nil {
		return err
	}
	type plain Feed
	return n.Decode((*plain)(f))
}

// UnmarshalYAML keeps the raw mapping next to the decoded fields
func (g *Group) UnmarshalYAML(n *yaml.Node) error {
	if err := n.Decode(&g.raw); err != nil {
		return err
	}
	type plain Group
	return n.Decode((*plain)(g))
}

// Raw returns the feed's raw configuration mapping
func (f *Feed) Raw() map[string]any { return f.raw }

// Overlay returns the group's raw mapping without the structural keys, i.e.
// the part applied on top of every transitively-included feed.
func (g *Group) Overlay() map[string]any {
	overlay := map[string]any{}
	for k, v := range g.raw {
		if k == "name" || k == "members" {
			continue
		}
		overlay[k] = v
	}
	return overlay
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Schedule.DefaultInterval == 0 {
		c.Schedule.DefaultInterval = 30
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "telegram-rss-bot/1.0"
	}
	if c.Fetch.PerHostRPS == 0 {
		c.Fetch.PerHostRPS = 1
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "file:rssbot.db?cache=shared&mode=rwc"
	}
}

// validate checks configuration for correctness. A missing token is the only
// hard failure of the whole pipeline: without credentials nothing can be
// delivered, so the run must not start. Everything else degrades per entity.
func validate(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Schedule.DefaultInterval < 0 {
		return fmt.Errorf("schedule.default_interval must be non-negative")
	}
	if cfg.Fetch.Timeout < time.Second {
		return fmt.Errorf("fetch.timeout must be at least 1 second")
	}
	seen := map[string]bool{}
	for i := range cfg.Feeds {
		name := cfg.Feeds[i].Name
		if name == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate feed name %q", name)
		}
		seen[name] = true
	}
	for i := range cfg.Groups {
		if cfg.Groups[i].Name == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
	}
	return nil
}
