package genflow

import (
	"time"

	"github.com/Desarso/genflow/retry"
	"github.com/Desarso/genflow/stores"
)

// PipelineConfig holds retry and observability settings for a Pipeline.
type PipelineConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	AuthType     retry.AuthType
	ShouldRetry  func(error) bool
	Hooks        Hooks
}

// NewPipelineConfig returns a configuration with the default retry policy
// and no hooks.
func NewPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxAttempts:  retry.DefaultMaxAttempts,
		InitialDelay: retry.DefaultInitialDelay,
		MaxDelay:     retry.DefaultMaxDelay,
		AuthType:     retry.AuthTypeAPIKey,
	}
}

func (c *PipelineConfig) WithMaxAttempts(n int) *PipelineConfig {
	c.MaxAttempts = n
	return c
}

func (c *PipelineConfig) WithBackoff(initial, max time.Duration) *PipelineConfig {
	c.InitialDelay = initial
	c.MaxDelay = max
	return c
}

func (c *PipelineConfig) WithAuthType(t retry.AuthType) *PipelineConfig {
	c.AuthType = t
	return c
}

// WithShouldRetry replaces the default retry predicate.
func (c *PipelineConfig) WithShouldRetry(fn func(error) bool) *PipelineConfig {
	c.ShouldRetry = fn
	return c
}

func (c *PipelineConfig) WithHooks(h Hooks) *PipelineConfig {
	c.Hooks = h
	return c
}

func (c *PipelineConfig) retryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		ShouldRetry:  c.ShouldRetry,
		AuthType:     c.AuthType,
	}
}

// SessionConfig holds configuration for the HTTP and WebSocket session
// controllers.
type SessionConfig struct {
	Provider Provider
	Tools    []interface{}
	Store    stores.MessageStore
	Pipeline *PipelineConfig
}

// NewSessionConfig creates a session configuration backed by the default
// SQLite store.
func NewSessionConfig(provider Provider) *SessionConfig {
	defaultStore, err := stores.NewSQLiteStoreDefault()
	if err != nil {
		panic("Failed to create default SQLite store: " + err.Error())
	}
	return &SessionConfig{
		Provider: provider,
		Tools:    []interface{}{},
		Store:    defaultStore,
		Pipeline: NewPipelineConfig(),
	}
}

// WithTools sets the tool functions exposed to the model.
func (c *SessionConfig) WithTools(tools []interface{}) *SessionConfig {
	c.Tools = tools
	return c
}

// WithStore sets the message store for the configuration
func (c *SessionConfig) WithStore(store stores.MessageStore) *SessionConfig {
	c.Store = store
	return c
}

// WithSQLiteStore sets a SQLite store with the specified database path
func (c *SessionConfig) WithSQLiteStore(dbPath string) *SessionConfig {
	store, err := stores.NewSQLiteStoreSimple(dbPath)
	if err != nil {
		panic("Failed to create SQLite store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithPostgresStore sets a PostgreSQL store with the specified connection parameters
func (c *SessionConfig) WithPostgresStore(host, user, password, dbname string, port int) *SessionConfig {
	store, err := stores.NewPostgresStoreDefault(host, user, password, dbname, port)
	if err != nil {
		panic("Failed to create PostgreSQL store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithPipelineConfig overrides the retry and hook settings used by sessions.
func (c *SessionConfig) WithPipelineConfig(pc *PipelineConfig) *SessionConfig {
	c.Pipeline = pc
	return c
}
