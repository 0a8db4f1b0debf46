package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          int
	LogLevel      string
	NatsURL       string
	NatsToken     string
	DatabaseURL   string
	APIToken      string
	ContextsPath  string
	QueueCapacity int

	// Generator (Ollama)
	OllamaURL            string
	Model                string
	OllamaKeepAlive      int
	MaxContextSize       int
	MaxContextMsgs       int
	MaxAnswerRetries     int
	DialogTemperature    float64
	UseJSONValidator     bool
	ValidatorTemperature float64
	SystemPromptPath     string
	ValidatorPromptPath  string

	// Image backend (ComfyUI)
	ComfyUIURL        string
	WorkflowPath      string
	ImageSteps        int
	ImageWidth        int
	ImageHeight       int
	ImageAttempts     int
	PollInterval      time.Duration
	PollTimeout       time.Duration
	PositivePromptIDs []string
	NegativePromptIDs []string
	WidthIDs          []string
	HeightIDs         []string
	SeedIDs           []string
	StepsIDs          []string
	OutputNodeID      string

	// Speech recognition (whisper.cpp server)
	WhisperURL       string
	WhisperLanguage  string
	WhisperTranslate bool

	// Telegram
	TelegramToken               string
	TelegramBotNames            []string
	TelegramShowroom            string
	TelegramSkipUpdates         bool
	TelegramGroupContextPerUser bool

	// Slack
	SlackBotToken       string
	SlackBotUserID      string
	SlackBotNames       []string
	SlackShowroom       string
	SlackMessageSubject string

	// User-facing fallback replies
	FallbackNoAnswer string
	FallbackNoImage  string
	FallbackError    string
}

func Load() Config {
	return Config{
		Port:          envInt("HERALD_PORT", 8760),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		APIToken:      envStr("HERALD_API_TOKEN", ""),
		ContextsPath:  envStr("CONTEXTS_PATH", "contexts"),
		QueueCapacity: envInt("QUEUE_CAPACITY", 200),

		OllamaURL:            envStr("OLLAMA_URL", "http://127.0.0.1:11434"),
		Model:                envStr("OLLAMA_MODEL", "gemma2:latest"),
		OllamaKeepAlive:      envInt("OLLAMA_KEEP_ALIVE", 0),
		MaxContextSize:       envInt("MAX_CONTEXT_SIZE", 4096),
		MaxContextMsgs:       envInt("MAX_CONTEXT_MSGS", 10),
		MaxAnswerRetries:     envInt("MAX_ANSWER_RETRIES", 3),
		DialogTemperature:    envFloat("DIALOG_TEMPERATURE", 0.8),
		UseJSONValidator:     envBool("USE_JSON_VALIDATOR", false),
		ValidatorTemperature: envFloat("JSON_VALIDATOR_TEMPERATURE", 0.5),
		SystemPromptPath:     envStr("SYSTEM_PROMPT_PATH", "prompts/system.txt"),
		ValidatorPromptPath:  envStr("JSON_VALIDATOR_PROMPT_PATH", "prompts/validator.txt"),

		ComfyUIURL:        envStr("COMFYUI_URL", "http://127.0.0.1:8188"),
		WorkflowPath:      envStr("COMFYUI_WORKFLOW_PATH", "workflow/workflow_api-flux-schnell.json"),
		ImageSteps:        envInt("IMAGE_STEPS", 6),
		ImageWidth:        envInt("IMAGE_WIDTH", 1200),
		ImageHeight:       envInt("IMAGE_HEIGHT", 800),
		ImageAttempts:     envInt("COMFYUI_ATTEMPTS", 2),
		PollInterval:      envDuration("COMFYUI_POLL_INTERVAL", 300*time.Millisecond),
		PollTimeout:       envDuration("COMFYUI_POLL_TIMEOUT", 2*time.Minute),
		PositivePromptIDs: envList("COMFYUI_POSITIVE_PROMPT_FIELDS", []string{"6.inputs.text"}),
		NegativePromptIDs: envList("COMFYUI_NEGATIVE_PROMPT_FIELDS", []string{"7.inputs.text"}),
		WidthIDs:          envList("COMFYUI_WIDTH_FIELDS", []string{"5.inputs.width"}),
		HeightIDs:         envList("COMFYUI_HEIGHT_FIELDS", []string{"5.inputs.height"}),
		SeedIDs:           envList("COMFYUI_SEED_FIELDS", []string{"25.inputs.noise_seed"}),
		StepsIDs:          envList("COMFYUI_STEPS_FIELDS", []string{"17.inputs.steps"}),
		OutputNodeID:      envStr("COMFYUI_OUTPUT_NODE", "26"),

		WhisperURL:       envStr("WHISPER_URL", ""),
		WhisperLanguage:  envStr("WHISPER_LANGUAGE", "auto"),
		WhisperTranslate: envBool("WHISPER_TRANSLATE", false),

		TelegramToken:               envStr("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotNames:            envList("TELEGRAM_BOT_NAMES", nil),
		TelegramShowroom:            envStr("TELEGRAM_SHOWROOM_CHANNEL", ""),
		TelegramSkipUpdates:         envBool("TELEGRAM_SKIP_UPDATES", false),
		TelegramGroupContextPerUser: envBool("TELEGRAM_GROUP_CONTEXT_PER_USER", false),

		SlackBotToken:       envStr("SLACK_BOT_TOKEN", ""),
		SlackBotUserID:      envStr("SLACK_BOT_USER_ID", ""),
		SlackBotNames:       envList("SLACK_BOT_NAMES", nil),
		SlackShowroom:       envStr("SLACK_SHOWROOM_CHANNEL", ""),
		SlackMessageSubject: envStr("SLACK_MESSAGE_SUBJECT", "swarm.slack.message"),

		FallbackNoAnswer: envStr("FALLBACK_NO_ANSWER", "Sorry, I couldn't process your request. Please try again."),
		FallbackNoImage:  envStr("FALLBACK_NO_IMAGE", "Sorry, I couldn't generate an image. Please try again."),
		FallbackError:    envStr("FALLBACK_ERROR", "Ой якесь лишенько трапилось..."),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList reads a comma-separated list, dropping empty entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
