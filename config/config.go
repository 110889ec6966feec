package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"omnibox/utils"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration written as a string ("10s", "24h") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Requests per second allowed per client IP; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

type EmailConfig struct {
	Enabled   bool     `toml:"enabled"`
	Host      string   `toml:"host"`
	Port      int      `toml:"port"`
	StoreType string   `toml:"store_type"` // imaps or imap
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
	Address   string   `toml:"address"`
	Folders   []string `toml:"folders"`
}

type SMTPConfig struct {
	Server      string `toml:"server"`
	Port        int    `toml:"port"`
	UseSTARTTLS bool   `toml:"use_starttls"` // true for port 587, false for port 465
}

type FacebookConfig struct {
	Enabled     bool   `toml:"enabled"`
	AccessToken string `toml:"access_token"`
	PageID      string `toml:"page_id"`
	GraphURL    string `toml:"graph_url"`
}

type WhatsAppConfig struct {
	Enabled       bool     `toml:"enabled"`
	AccessToken   string   `toml:"access_token"`
	PhoneNumberID string   `toml:"phone_number_id"`
	PhoneNumber   string   `toml:"phone_number"`
	VerifyToken   string   `toml:"verify_token"`
	WebhookSecret string   `toml:"webhook_secret"`
	GraphURL      string   `toml:"graph_url"`
	ReplyWindow   Duration `toml:"reply_window"`
}

type PollConfig struct {
	Interval Duration `toml:"interval"`
}

type LiveConfig struct {
	SubscriberTimeout Duration `toml:"subscriber_timeout"`
	Buffer            int      `toml:"buffer"`
	KeepAlive         Duration `toml:"keep_alive"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Email    EmailConfig    `toml:"email"`
	SMTP     SMTPConfig     `toml:"smtp"`
	Facebook FacebookConfig `toml:"facebook"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Poll     PollConfig     `toml:"poll"`
	Live     LiveConfig     `toml:"live"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
}

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config

	config.Server.Port = 3000
	config.Server.RateLimit = 20
	config.Server.RateBurst = 40

	config.Email.Port = 993
	config.Email.StoreType = "imaps"
	config.Email.Folders = []string{"INBOX", "[Gmail]/Sent Mail"}

	config.SMTP.Port = 587 // Default to STARTTLS port
	config.SMTP.UseSTARTTLS = true

	config.Facebook.GraphURL = defaultGraphURL
	config.WhatsApp.GraphURL = defaultGraphURL
	config.WhatsApp.ReplyWindow.Duration = 24 * time.Hour

	config.Poll.Interval.Duration = utils.DefaultPollInterval
	config.Live.SubscriberTimeout.Duration = utils.DefaultSubscriberTimeout
	config.Live.Buffer = utils.DefaultSubscriberBuffer
	config.Live.KeepAlive.Duration = 30 * time.Second

	config.Storage.DataDir = "./data"
	config.Log.Level = "info"

	return &config
}

// LoadEnv loads a .env file into the process environment. A missing file is
// not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadConfig decodes the TOML file at filepath over the defaults, then applies
// OMNIBOX_* environment overrides.
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	if filepath != "" {
		if _, err := toml.DecodeFile(filepath, config); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// If SMTP server is not specified, derive it from IMAP server
	if config.SMTP.Server == "" {
		config.SMTP.Server = config.Email.Host
		// Convert imap.server.com to smtp.server.com
		if strings.HasPrefix(config.SMTP.Server, "imap.") {
			config.SMTP.Server = "smtp" + config.SMTP.Server[4:]
		}
	}

	return config, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"OMNIBOX_EMAIL_HOST":               &c.Email.Host,
		"OMNIBOX_EMAIL_USERNAME":           &c.Email.Username,
		"OMNIBOX_EMAIL_PASSWORD":           &c.Email.Password,
		"OMNIBOX_EMAIL_ADDRESS":            &c.Email.Address,
		"OMNIBOX_SMTP_SERVER":              &c.SMTP.Server,
		"OMNIBOX_FACEBOOK_ACCESS_TOKEN":    &c.Facebook.AccessToken,
		"OMNIBOX_FACEBOOK_PAGE_ID":         &c.Facebook.PageID,
		"OMNIBOX_WHATSAPP_ACCESS_TOKEN":    &c.WhatsApp.AccessToken,
		"OMNIBOX_WHATSAPP_PHONE_NUMBER_ID": &c.WhatsApp.PhoneNumberID,
		"OMNIBOX_WHATSAPP_PHONE_NUMBER":    &c.WhatsApp.PhoneNumber,
		"OMNIBOX_WHATSAPP_VERIFY_TOKEN":    &c.WhatsApp.VerifyToken,
		"OMNIBOX_WHATSAPP_WEBHOOK_SECRET":  &c.WhatsApp.WebhookSecret,
		"OMNIBOX_STORAGE_DATA_DIR":         &c.Storage.DataDir,
		"OMNIBOX_LOG_LEVEL":                &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("OMNIBOX_SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OMNIBOX_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("OMNIBOX_POLL_INTERVAL"); ok {
		if err := c.Poll.Interval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("OMNIBOX_POLL_INTERVAL: %w", err)
		}
	}
	return nil
}

// Validate reports every missing setting of the enabled channels at once.
func (c *Config) Validate() error {
	problems := &utils.ConfigurationError{}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems.Add("server.port %d out of range", c.Server.Port)
	}
	if c.Poll.Interval.Duration <= 0 {
		problems.Add("poll.interval must be positive")
	}
	if c.Live.Buffer <= 0 {
		problems.Add("live.buffer must be positive")
	}
	if _, err := utils.ParseLogLevel(c.Log.Level); err != nil {
		problems.Add("log.level: %v", err)
	}

	if c.Email.Enabled {
		if c.Email.Host == "" {
			problems.Add("email.host is required")
		}
		if c.Email.Username == "" {
			problems.Add("email.username is required")
		}
		if c.Email.Password == "" {
			problems.Add("email.password is required")
		}
		if c.Email.StoreType != "imaps" && c.Email.StoreType != "imap" {
			problems.Add("email.store_type must be imaps or imap, got %q", c.Email.StoreType)
		}
		if len(c.Email.Folders) == 0 {
			problems.Add("email.folders must name at least one folder")
		}
	}

	if c.Facebook.Enabled {
		if c.Facebook.AccessToken == "" {
			problems.Add("facebook.access_token is required")
		}
		if c.Facebook.PageID == "" {
			problems.Add("facebook.page_id is required")
		}
	}

	if c.WhatsApp.Enabled {
		if c.WhatsApp.AccessToken == "" {
			problems.Add("whatsapp.access_token is required")
		}
		if c.WhatsApp.PhoneNumberID == "" {
			problems.Add("whatsapp.phone_number_id is required")
		}
		if c.WhatsApp.PhoneNumber == "" {
			problems.Add("whatsapp.phone_number is required")
		}
		if c.WhatsApp.VerifyToken == "" {
			problems.Add("whatsapp.verify_token is required")
		}
		if c.WhatsApp.ReplyWindow.Duration <= 0 {
			problems.Add("whatsapp.reply_window must be positive")
		}
	}

	return problems.OrNil()
}

// Helper method to get the appropriate SMTP port based on encryption
func (c *SMTPConfig) GetPort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.UseSTARTTLS {
		return 587 // STARTTLS port
	}
	return 465 // SSL/TLS port
}

// Address returns host:port for the HTTP listener.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
