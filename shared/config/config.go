package config

import (
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Public  Public
	Private Private
}

type Public struct {
	HttpAddr string `yaml:"http_addr"`

	// upload requests carry whole file sets, so the timeout is measured in minutes
	UploadTimeoutMinutes  int      `yaml:"upload_timeout_minutes" validate:"required,gt=0"`
	MaxRequestSize        int64    `yaml:"max_request_size" validate:"required,gt=0"`
	MaxFilesPerRequest    int      `yaml:"max_files_per_request" validate:"required,gt=0"`
	AllowedImageMimeTypes []string `yaml:"allowed_image_mime_types" validate:"required,min=1"`

	CorsOrigins   []string      `yaml:"cors_origins"`
	SecureCookies bool          `yaml:"secure_cookies"`
	JwtTTL        time.Duration `yaml:"jwt_ttl"`

	StagingDir           string        `yaml:"staging_dir" validate:"required"`
	SweepInterval        time.Duration `yaml:"sweep_interval" validate:"required"`
	SweepSafetyThreshold time.Duration `yaml:"sweep_safety_threshold" validate:"required"`

	DefaultPageLimit    int   `yaml:"default_page_limit" validate:"required,gt=0"`
	MaxPageLimit        int   `yaml:"max_page_limit" validate:"required,gtefield=DefaultPageLimit"`
	ThumbnailSize       int   `yaml:"thumbnail_size" validate:"required,gt=0"`
	PreviewMaxWidth     int   `yaml:"preview_max_width" validate:"required,gt=0"`
	MaxDecodedImageSize int64 `yaml:"max_decoded_image_size"`
	MaxDownloadFiles    int   `yaml:"max_download_files" validate:"required,gt=0"`

	Slack      Slack      `yaml:"slack"`
	ParamStore ParamStore `yaml:"param_store"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

type Slack struct {
	APIURL string `yaml:"api_url"`

	// dev: one static token for everybody, user: per-user token lookup
	CredentialMode    string        `yaml:"credential_mode" validate:"required,oneof=dev user"`
	MembershipWorkers int           `yaml:"membership_workers" validate:"required,gt=0"`
	AllowedProxyHosts []string      `yaml:"allowed_proxy_hosts" validate:"required,min=1"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

type ParamStore struct {
	Backend string `yaml:"backend" validate:"required,oneof=env ssm"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

type Pg struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname" validate:"required"`
}

type Private struct {
	Pg Pg `yaml:"pg"`
	// empty means "resolve through the param store"
	JwtKey string `yaml:"jwt_key"`
}

func (c *Config) JwtTTL() time.Duration {
	return c.Public.JwtTTL
}

func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Public.UploadTimeoutMinutes) * time.Minute
}

func mustLoadPath(configPath string, output interface{}) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		panic("can't read config file")
	}

	if err := yaml.Unmarshal(configFile, output); err != nil {
		panic("can't unmarshal config file: " + err.Error())
	}
}

func MustLoad(configFolder string) *Config {
	var public Public
	mustLoadPath(path.Join(configFolder, "public.yaml"), &public)

	var private Private
	mustLoadPath(path.Join(configFolder, "private.yaml"), &private)

	cfg := &Config{Public: public, Private: private}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Public.HttpAddr = ":" + port
	}
	if cfg.Public.HttpAddr == "" {
		cfg.Public.HttpAddr = ":8080"
	}
	if cfg.Public.MaxDecodedImageSize == 0 {
		cfg.Public.MaxDecodedImageSize = 256 << 20
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		panic("invalid config: " + err.Error())
	}
	return cfg
}
