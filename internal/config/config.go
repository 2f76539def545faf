// Package config provides configuration types and loading for chorus.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Agent, Provider, Interest, Policy, RateLimit, Queue,
// Dedupe, Team, Channels, Paths.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Interest  InterestConfig  `json:"interest"`
	Policy    PolicyConfig    `json:"policy"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Queue     QueueConfig     `json:"queue"`
	Dedupe    DedupeConfig    `json:"dedupe"`
	Team      TeamConfig      `json:"team"`
	Channels  ChannelsConfig  `json:"channels"`
	Paths     PathsConfig     `json:"paths"`
}

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	ID    string `json:"id" envconfig:"ID"`
	Name  string `json:"name" envconfig:"NAME"`
	Model string `json:"model" envconfig:"MODEL"`
}

// ProviderConfig contains LLM provider settings.
type ProviderConfig struct {
	APIKey         string `json:"apiKey" envconfig:"API_KEY"`
	APIBase        string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model          string `json:"model" envconfig:"MODEL"`
	EmbeddingModel string `json:"embeddingModel" envconfig:"EMBEDDING_MODEL"`
	EmbeddingDims  int    `json:"embeddingDims" envconfig:"EMBEDDING_DIMS"`
}

// InterestConfig governs per-room attention decay.
type InterestConfig struct {
	DecayTimeMs    int `json:"decayTimeMs" envconfig:"DECAY_TIME_MS"`
	PartialDecayMs int `json:"partialDecayMs" envconfig:"PARTIAL_DECAY_MS"`
	MaxMessages    int `json:"maxMessages" envconfig:"MAX_MESSAGES"`
}

// PolicyConfig governs the respond/ignore/stop decision rules.
type PolicyConfig struct {
	MentionsOnly  bool `json:"mentionsOnly" envconfig:"MENTIONS_ONLY"`
	CadenceWindow int  `json:"cadenceWindow" envconfig:"CADENCE_WINDOW"`
}

// RateLimitConfig governs the per-key sliding window.
type RateLimitConfig struct {
	WindowMs int `json:"windowMs" envconfig:"WINDOW_MS"`
}

// QueueConfig bounds the outbound send queue.
type QueueConfig struct {
	MaxCount      int `json:"maxCount" envconfig:"MAX_COUNT"`
	MaxBytes      int `json:"maxBytes" envconfig:"MAX_BYTES"`
	MinIntervalMs int `json:"minIntervalMs" envconfig:"MIN_INTERVAL_MS"`
	BaseSize      int `json:"baseSize" envconfig:"BASE_SIZE"`
}

// DedupeConfig governs near-duplicate suppression.
type DedupeConfig struct {
	SimilarityThreshold float64 `json:"similarityThreshold" envconfig:"SIMILARITY_THRESHOLD"`
	WindowMs            int     `json:"windowMs" envconfig:"WINDOW_MS"`
}

// TeamMember describes one cooperating agent instance.
type TeamMember struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// TeamTelemetryConfig configures the optional Kafka telemetry publisher.
type TeamTelemetryConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers  string `json:"brokers" envconfig:"BROKERS"`
	TeamName string `json:"teamName" envconfig:"TEAM_NAME"`
}

// TeamConfig is the immutable team topology for this agent instance.
type TeamConfig struct {
	Enabled              bool                `json:"enabled" envconfig:"ENABLED"`
	IsLeader             bool                `json:"isLeader" envconfig:"IS_LEADER"`
	LeaderID             string              `json:"leaderId" envconfig:"LEADER_ID"`
	Members              []TeamMember        `json:"members"`
	CoordinationKeywords []string            `json:"coordinationKeywords"`
	AfterLeaderChance    float64             `json:"afterLeaderChance" envconfig:"AFTER_LEADER_CHANCE"`
	BackoffMinMs         int                 `json:"backoffMinMs" envconfig:"BACKOFF_MIN_MS"`
	BackoffMaxMs         int                 `json:"backoffMaxMs" envconfig:"BACKOFF_MAX_MS"`
	KeywordDelayMs       int                 `json:"keywordDelayMs" envconfig:"KEYWORD_DELAY_MS"`
	LeaderRecencyMs      int                 `json:"leaderRecencyMs" envconfig:"LEADER_RECENCY_MS"`
	Telemetry            TeamTelemetryConfig `json:"telemetry"`
}

// ChannelsConfig contains all channel adapter configurations.
type ChannelsConfig struct {
	Slack SlackConfig `json:"slack"`
}

// SlackConfig configures the Slack socket-mode adapter.
type SlackConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken  string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken  string `json:"appToken" envconfig:"APP_TOKEN"`
	BotUserID string `json:"botUserId" envconfig:"BOT_USER_ID"`
	// SendRatePerSec paces outbound messages per channel.
	SendRatePerSec float64 `json:"sendRatePerSec" envconfig:"SEND_RATE_PER_SEC"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// Default returns a config with every knob at its documented default.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			ID:   "chorus-1",
			Name: "chorus",
		},
		Provider: ProviderConfig{
			EmbeddingDims: 1536,
		},
		Interest: InterestConfig{
			DecayTimeMs:    int(30 * time.Minute / time.Millisecond),
			PartialDecayMs: int(10 * time.Minute / time.Millisecond),
			MaxMessages:    50,
		},
		Policy: PolicyConfig{
			CadenceWindow: 10,
		},
		RateLimit: RateLimitConfig{
			WindowMs: 5000,
		},
		Queue: QueueConfig{
			MaxCount:      10,
			MaxBytes:      1 << 20,
			MinIntervalMs: 2000,
			BaseSize:      200,
		},
		Dedupe: DedupeConfig{
			SimilarityThreshold: 0.8,
			WindowMs:            10000,
		},
		Team: TeamConfig{
			AfterLeaderChance: 0.2,
			BackoffMinMs:      1500,
			BackoffMaxMs:      4500,
			KeywordDelayMs:    800,
			LeaderRecencyMs:   5000,
		},
		Channels: ChannelsConfig{
			Slack: SlackConfig{SendRatePerSec: 1},
		},
	}
}
