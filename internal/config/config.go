// Package config loads the router's declarative configuration document and broker credentials.
//
// The document is YAML (JSON documents are accepted as-is) and is read once at startup:
//
//	broker:
//	  type: rabbitmq            # rabbitmq | redis
//	  url: amqp://mq.local:5672/
//	http:
//	  port: 8080
//	  shutdownGrace: 10s
//	routes:
//	  - inputQueue: INPUT.QUEUE
//	    workerCount: 4
//	    format: xml             # xml (XPath) | json (gjson paths)
//	    outputQueues:
//	      - name: ARCHIVE
//	        behavior: ALL
//	        failOnException: false
//	      - name: SYKMELDING
//	        behavior: MATCH
//	        matcher:
//	          extractor: /Envelope/Header/MsgInfo/Type/@V
//	          pattern: SYKMELD
//	      - name: MANUAL
//	        behavior: REMAINDER
//	    log:
//	      - key: msgId
//	        extractor: /Envelope/Header/MsgInfo/MsgId
//
// References of the form ${NAME} inside keys and values are replaced with environment
// values before decoding; comments are left alone. A reference to an unset variable
// fails the load.
//
// Environment Variables:
//   - CONFIG_FILE: path of the configuration document (required)
//   - CREDENTIALS_FILE: path of the JSON broker credentials secret (optional)
//   - LOG_LEVEL, LOG_FORMAT, LOG_FILE: see internal/common/logging
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/validation"
	"queue-router/internal/extract"
	"queue-router/internal/matcher"
)

// Behavior is the delivery class of an output queue
type Behavior string

const (
	// BehaviorAll outputs receive every message
	BehaviorAll Behavior = "ALL"
	// BehaviorRemainder outputs receive messages no MATCH output matched
	BehaviorRemainder Behavior = "REMAINDER"
	// BehaviorMatch outputs receive messages their matcher selects
	BehaviorMatch Behavior = "MATCH"
)

const (
	DefaultWorkerCount    = 4
	DefaultFormat         = "xml"
	DefaultPort           = 8080
	DefaultShutdownGrace  = 10 * time.Second
	DefaultConnectRetries = 5
	DefaultCredentialsEnv = "CREDENTIALS_FILE"
	DefaultConfigEnv      = "CONFIG_FILE"
)

// Config is the complete router configuration
type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	HTTP   HTTPConfig   `yaml:"http"`
	Routes []Route      `yaml:"routes" validate:"required,min=1,dive"`

	// Credentials is filled from the secrets file, never from the document
	Credentials *Credentials `yaml:"-"`
}

// BrokerConfig holds broker connection parameters
type BrokerConfig struct {
	Type           string `yaml:"type" validate:"broker_type"`
	URL            string `yaml:"url" validate:"omitempty,url"`
	Address        string `yaml:"address" validate:"omitempty,hostname_port"`
	DB             int    `yaml:"db" validate:"min=0,max=15"`
	PoolSize       int    `yaml:"poolSize" validate:"min=0"`
	DeclareQueues  *bool  `yaml:"declareQueues"`
	ConnectRetries int    `yaml:"connectRetries" validate:"min=0"`
}

// HTTPConfig holds the liveness/readiness/metrics listener settings
type HTTPConfig struct {
	Port          int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace" validate:"duration"`
}

// Route binds one input queue to its ordered output queues
type Route struct {
	InputQueue   string        `yaml:"inputQueue" validate:"required,queue_name"`
	OutputQueues []OutputQueue `yaml:"outputQueues" validate:"required,min=1,dive"`
	WorkerCount  int           `yaml:"workerCount" validate:"min=1,max=256"`
	Format       string        `yaml:"format" validate:"oneof=xml json"`
	Log          []LogField    `yaml:"log" validate:"dive"`
}

// OutputQueue is one delivery target of a route
type OutputQueue struct {
	Name            string   `yaml:"name" validate:"required,queue_name"`
	FailOnException *bool    `yaml:"failOnException"`
	Behavior        Behavior `yaml:"behavior" validate:"behavior"`
	Matcher         *Matcher `yaml:"matcher"`
}

// Matcher selects messages for MATCH outputs
type Matcher struct {
	Extractor string `yaml:"extractor" validate:"required"`
	Pattern   string `yaml:"pattern" validate:"regexp"`
}

// LogField is a diagnostic value extracted from every message for log lines
type LogField struct {
	Key       string `yaml:"key" validate:"required"`
	Extractor string `yaml:"extractor" validate:"required"`
}

// Credentials are the broker login read from the secrets file
type Credentials struct {
	Username string `yaml:"mqUsername" validate:"required"`
	Password string `yaml:"mqPassword" validate:"required"`
}

// FailsOnException reports whether a send failure to this output aborts the delivery unit
func (o OutputQueue) FailsOnException() bool {
	return o.FailOnException == nil || *o.FailOnException
}

// ShouldDeclareQueues reports whether queues are declared before use
func (b BrokerConfig) ShouldDeclareQueues() bool {
	return b.DeclareQueues == nil || *b.DeclareQueues
}

// URLWithCredentials returns the broker URL with the credentials as userinfo.
// Userinfo already present in the document wins.
func (b BrokerConfig) URLWithCredentials(creds *Credentials) (string, error) {
	u, err := url.Parse(b.URL)
	if err != nil {
		return "", errors.ConfigError("invalid broker url", err)
	}
	if u.User == nil && creds != nil && creds.Username != "" {
		u.User = url.UserPassword(creds.Username, creds.Password)
	}
	return u.String(), nil
}

// OutputNames lists the route's output queue names in declaration order
func (r Route) OutputNames() []string {
	names := make([]string, len(r.OutputQueues))
	for i, output := range r.OutputQueues {
		names[i] = output.Name
	}
	return names
}

// Paths locates the configuration document and credentials secret
type Paths struct {
	ConfigFile      string
	CredentialsFile string
}

// PathsFromEnv reads CONFIG_FILE and CREDENTIALS_FILE
func PathsFromEnv() Paths {
	return Paths{
		ConfigFile:      os.Getenv(DefaultConfigEnv),
		CredentialsFile: os.Getenv(DefaultCredentialsEnv),
	}
}

// Load reads, expands, parses, defaults and validates the configuration and credentials
func Load(paths Paths) (*Config, error) {
	if paths.ConfigFile == "" {
		return nil, errors.ConfigError("missing env variable "+DefaultConfigEnv, nil)
	}

	raw, err := os.ReadFile(paths.ConfigFile)
	if err != nil {
		return nil, errors.ConfigError("failed to read config file", err).WithContext("path", paths.ConfigFile)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if paths.CredentialsFile != "" {
		creds, err := LoadCredentials(paths.CredentialsFile)
		if err != nil {
			return nil, err
		}
		cfg.Credentials = creds
	}

	return cfg, nil
}

// Parse builds a validated Config from a document
func Parse(raw []byte) (*Config, error) {
	expanded, err := ExpandEnv(raw, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.ConfigError("failed to parse config document", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCredentials reads the JSON credentials secret
func LoadCredentials(path string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError("failed to read credentials file", err).WithContext("path", path)
	}

	var creds Credentials
	if err := yaml.Unmarshal(raw, &creds); err != nil {
		return nil, errors.ConfigError("failed to parse credentials file", err).WithContext("path", path)
	}
	if err := validation.ValidateStruct(creds); err != nil {
		return nil, errors.ConfigError("invalid credentials file", err).WithContext("path", path)
	}
	return &creds, nil
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} references in the scalars of a YAML document using lookup
// and returns the re-encoded document. Bare $ signs are left alone because they are
// common in matcher patterns.
func ExpandEnv(raw []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.ConfigError("failed to parse config document", err)
	}
	if doc.Kind == 0 {
		return nil, errors.ConfigError("config document is empty", nil)
	}

	var missing []string
	expandNode(&doc, lookup, &missing)
	if len(missing) > 0 {
		return nil, errors.ConfigError("config references unset environment variables", nil).
			WithContext("variables", strings.Join(missing, ","))
	}

	expanded, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, errors.InternalError("failed to encode expanded config document", err)
	}
	return expanded, nil
}

func expandNode(node *yaml.Node, lookup func(string) (string, bool), missing *[]string) {
	if node.Kind == yaml.ScalarNode && strings.Contains(node.Value, "${") {
		node.Value = envReference.ReplaceAllStringFunc(node.Value, func(ref string) string {
			name := envReference.FindStringSubmatch(ref)[1]
			value, ok := lookup(name)
			if !ok {
				*missing = append(*missing, name)
				return ref
			}
			return value
		})
		// unquoted values are re-typed from their expansion, so ${PORT} decodes as an int
		if node.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) == 0 {
			node.Tag = ""
		}
	}
	for _, child := range node.Content {
		expandNode(child, lookup, missing)
	}
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Broker.Type == "" {
		c.Broker.Type = "rabbitmq"
	}
	if c.Broker.ConnectRetries == 0 {
		c.Broker.ConnectRetries = DefaultConnectRetries
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}
	if c.HTTP.ShutdownGrace == 0 {
		c.HTTP.ShutdownGrace = DefaultShutdownGrace
	}

	for i := range c.Routes {
		route := &c.Routes[i]
		if route.WorkerCount == 0 {
			route.WorkerCount = DefaultWorkerCount
		}
		if route.Format == "" {
			route.Format = DefaultFormat
		}
		route.Format = strings.ToLower(route.Format)

		for j := range route.OutputQueues {
			output := &route.OutputQueues[j]
			if output.Behavior == "" {
				output.Behavior = BehaviorAll
			}
			output.Behavior = Behavior(strings.ToUpper(string(output.Behavior)))
		}
	}
}

// Validate checks the structure and then the semantics of the configuration:
// broker addressing, unique input queues, MATCH outputs carrying matchers, and
// compilable extractors and patterns.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return errors.ConfigError("invalid configuration", err)
	}

	switch c.Broker.Type {
	case "rabbitmq":
		if c.Broker.URL == "" {
			return errors.ConfigError("broker.url is required for rabbitmq", nil)
		}
	case "redis":
		if c.Broker.Address == "" {
			return errors.ConfigError("broker.address is required for redis", nil)
		}
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, route := range c.Routes {
		if seen[route.InputQueue] {
			return errors.ConfigError(fmt.Sprintf("routes[%d]: duplicate input queue %q", i, route.InputQueue), nil)
		}
		seen[route.InputQueue] = true

		if err := route.compile(); err != nil {
			return errors.ConfigError(fmt.Sprintf("routes[%d] (%s)", i, route.InputQueue), err)
		}
	}
	return nil
}

// compile checks that every extractor and pattern of the route compiles
func (r Route) compile() error {
	format, err := extract.ForName(r.Format)
	if err != nil {
		return err
	}

	outputs := make(map[string]bool, len(r.OutputQueues))
	for j, output := range r.OutputQueues {
		if outputs[output.Name] {
			return fmt.Errorf("outputQueues[%d]: duplicate output queue %q", j, output.Name)
		}
		outputs[output.Name] = true

		if output.Behavior != BehaviorMatch {
			continue
		}
		if output.Matcher == nil {
			return fmt.Errorf("outputQueues[%d] (%s): behavior MATCH requires a matcher", j, output.Name)
		}
		if _, err := matcher.New(format, output.Matcher.Extractor, output.Matcher.Pattern); err != nil {
			return fmt.Errorf("outputQueues[%d] (%s): %w", j, output.Name, err)
		}
	}

	for k, field := range r.Log {
		if _, err := format.Compile(field.Extractor); err != nil {
			return fmt.Errorf("log[%d] (%s): %w", k, field.Key, err)
		}
	}
	return nil
}
