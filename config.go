package community

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	ModeDevelopment = "development"
	ModeStaging     = "staging"
	ModeProduction  = "production"
	ModeTest        = "test"
)

const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// BuildMode is the environment mode baked in at build time:
//
//	go build -ldflags "-X github.com/goliatone/go-community.BuildMode=production"
var BuildMode = ModeDevelopment

var modeBaseURLs = map[string]string{
	ModeDevelopment: "http://localhost:5000/api",
	ModeTest:        "http://localhost:5000/api",
	ModeStaging:     "https://staging-api.community.events/api",
	ModeProduction:  "https://api.community.events/api",
}

// BaseURLForMode returns the API base URL for an environment mode.
func BaseURLForMode(mode string) string {
	if u, ok := modeBaseURLs[strings.ToLower(mode)]; ok {
		return u
	}
	return modeBaseURLs[ModeDevelopment]
}

// Config holds every client option. DefaultConfig resolves all of them.
type Config struct {
	Mode           string        `toml:"mode" env:"COMMUNITY_MODE"`
	BaseURL        string        `toml:"base_url" env:"COMMUNITY_API_BASE_URL"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"COMMUNITY_REQUEST_TIMEOUT"`
	Debug          bool          `toml:"debug" env:"COMMUNITY_DEBUG"`
	LogLevel       string        `toml:"log_level" env:"COMMUNITY_LOG_LEVEL"`

	OTPWindow time.Duration `toml:"otp_window" env:"COMMUNITY_OTP_WINDOW"`
	OTPTick   time.Duration `toml:"otp_tick" env:"COMMUNITY_OTP_TICK"`
	OTPLength int           `toml:"otp_length" env:"COMMUNITY_OTP_LENGTH"`

	PasswordMinLength int    `toml:"password_min_length" env:"COMMUNITY_PASSWORD_MIN_LENGTH"`
	UsernameMinLength int    `toml:"username_min_length" env:"COMMUNITY_USERNAME_MIN_LENGTH"`
	UsernameMaxLength int    `toml:"username_max_length" env:"COMMUNITY_USERNAME_MAX_LENGTH"`
	UsernameSuffix    string `toml:"username_suffix" env:"COMMUNITY_USERNAME_SUFFIX"`

	StorageDriver string `toml:"storage_driver" env:"COMMUNITY_STORAGE_DRIVER"`
	StoragePath   string `toml:"storage_path" env:"COMMUNITY_STORAGE_PATH"`

	DemoFallback   bool          `toml:"demo_fallback" env:"COMMUNITY_DEMO_FALLBACK"`
	EventsCacheTTL time.Duration `toml:"events_cache_ttl" env:"COMMUNITY_EVENTS_CACHE_TTL"`
	PhoneRegion    string        `toml:"phone_region" env:"COMMUNITY_PHONE_REGION"`
}

// DefaultConfig returns a fully populated configuration for BuildMode,
// including the base URL of that mode.
func DefaultConfig() Config {
	return Config{
		Mode:              BuildMode,
		RequestTimeout:    15 * time.Second,
		LogLevel:          "info",
		OTPWindow:         600 * time.Second,
		OTPTick:           time.Second,
		OTPLength:         6,
		PasswordMinLength: 8,
		UsernameMinLength: 3,
		UsernameMaxLength: 20,
		UsernameSuffix:    "_user",
		StorageDriver:     StorageFile,
		StoragePath:       defaultStoragePath(),
		DemoFallback:      true,
		EventsCacheTTL:    5 * time.Minute,
		PhoneRegion:       "US",
	}.resolve()
}

// LoadConfig resolves defaults, then the optional TOML file at path, then
// COMMUNITY_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	// Derived from the final mode in resolve unless set explicitly.
	cfg.BaseURL = ""

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, WrapError(err, KindValidation, "config parse failed ("+path+")")
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, WrapError(err, KindValidation, "config env parse failed")
	}

	cfg = cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) resolve() Config {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = BuildMode
	}
	if c.BaseURL == "" {
		c.BaseURL = BaseURLForMode(c.Mode)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.StorageDriver = strings.ToLower(c.StorageDriver)
	c.PhoneRegion = strings.ToUpper(c.PhoneRegion)
	return c
}

// Validate will run validation rules
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In(ModeDevelopment, ModeStaging, ModeProduction, ModeTest)),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OTPWindow, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OTPTick, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.OTPLength, validation.Required, validation.Min(4), validation.Max(10)),
		validation.Field(&c.PasswordMinLength, validation.Required, validation.Min(1)),
		validation.Field(&c.UsernameMinLength, validation.Required, validation.Min(1)),
		validation.Field(&c.UsernameMaxLength, validation.Required, validation.Min(c.UsernameMinLength)),
		validation.Field(&c.UsernameSuffix, validation.Required, validation.Match(usernameCharset)),
		validation.Field(&c.StorageDriver, validation.Required, validation.In(StorageMemory, StorageFile, StorageSQLite)),
		validation.Field(&c.PhoneRegion, validation.Length(2, 2)),
	)
	return validationError(err, "invalid configuration")
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "community", "credentials.json")
}
