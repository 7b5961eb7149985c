package core

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "ATTENDANCE"

type (
	Config struct {
		AppName       string `mapstructure:"app_name"`
		Env           string `mapstructure:"env"`
		Build         string `mapstructure:"build"`
		Debug         bool   `mapstructure:"debug"`
		TestMode      bool   `mapstructure:"test_mode"`
		SecretKey     string `mapstructure:"secret_key" validate:"required"`
		EncryptionKey string `mapstructure:"encryption_key"`
		RollbarToken  string `mapstructure:"rollbar_token"`
		LogFile       string `mapstructure:"log_file"`

		Server     ServerConfig     `mapstructure:"server"`
		Database   DatabaseConfig   `mapstructure:"database"`
		Canvas     CanvasConfig     `mapstructure:"canvas"`
		Redis      RedisConfig      `mapstructure:"redis"`
		Attendance AttendanceConfig `mapstructure:"attendance"`
	}

	ServerConfig struct {
		Address            string        `mapstructure:"address"`
		Host               string        `mapstructure:"host"`
		DebugHost          string        `mapstructure:"debug_host"`
		ReadTimeout        time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
		WriteTimeout       time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
		ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
		JWTExpirationDelta time.Duration `mapstructure:"jwt_expiration_delta" validate:"gt=0"`
		DisableReqLogs     bool          `mapstructure:"disable_req_logs"`
	}

	DatabaseConfig struct {
		Engine          string        `mapstructure:"engine"`
		Host            string        `mapstructure:"host"`
		Port            string        `mapstructure:"port"`
		Name            string        `mapstructure:"name"`
		User            string        `mapstructure:"user"`
		Password        string        `mapstructure:"password"`
		AdminUser       string        `mapstructure:"admin_user"`
		AdminPassword   string        `mapstructure:"admin_password"`
		DisableTLS      bool          `mapstructure:"disable_tls"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	}

	CanvasConfig struct {
		BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
		ClientID     string        `mapstructure:"client_id"`
		ClientSecret string        `mapstructure:"client_secret"`
		RedirectURL  string        `mapstructure:"redirect_url"`
		Scopes       []string      `mapstructure:"scopes"`
		Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
		// TokenTTL is the validity window applied to stored Canvas tokens.
		// Zero means the upstream expires_in is honoured instead.
		TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gte=0"`
	}

	RedisConfig struct {
		Address   string        `mapstructure:"address"`
		Password  string        `mapstructure:"password"`
		DB        int           `mapstructure:"db"`
		RosterTTL time.Duration `mapstructure:"roster_ttl"`
	}

	AttendanceConfig struct {
		BatchConcurrency int `mapstructure:"batch_concurrency" validate:"gt=0"`
	}
)

var ErrEncryptionNotConfigured = errors.New("encryption not configured")

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// Validate fails fast on a configuration the service cannot run with.
func (conf *Config) Validate() error {
	if conf.EncryptionKey == "" {
		return ErrEncryptionNotConfigured
	}
	if err := validator.New().Struct(conf); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "Canvas Attendance")
	v.SetDefault("env", "dev")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("test_mode", false)
	v.SetDefault("secret_key", "k8#t2v!q0w$e9r@y7u&i6o^p5a*s4d(f3g)h2j+l1")
	v.SetDefault("encryption_key", "")
	v.SetDefault("rollbar_token", "")
	v.SetDefault("log_file", "")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.jwt_expiration_delta", 8*time.Hour)
	v.SetDefault("server.disable_req_logs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "attendance")
	v.SetDefault("database.user", "attendance")
	v.SetDefault("database.password", "attendance")
	v.SetDefault("database.admin_user", "postgres")
	v.SetDefault("database.admin_password", "postgres")
	v.SetDefault("database.disable_tls", true)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("canvas.base_url", "https://aui.instructure.com")
	v.SetDefault("canvas.client_id", "")
	v.SetDefault("canvas.client_secret", "")
	v.SetDefault("canvas.redirect_url", "http://localhost:8000/api/auth/callback")
	v.SetDefault("canvas.scopes", []string{
		"url:GET|/api/v1/courses/:course_id/users",
		"url:GET|/api/v1/courses/:course_id/enrollments",
		"url:GET|/api/v1/courses/:course_id/sections",
	})
	v.SetDefault("canvas.timeout", 5*time.Second)
	v.SetDefault("canvas.token_ttl", 3*time.Hour)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.roster_ttl", 5*time.Minute)

	v.SetDefault("attendance.batch_concurrency", 8)
}

// NewConfig loads the Config from defaults, `config/.env.<env>` (if any) and ATTENDANCE_* env vars.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToLower(os.Getenv("ENV")) // dev (local; default), test, qa, prod
	if env == "" {
		env = "dev"
	}
	v.SetDefault("env", env)
	if env == "test" {
		v.SetDefault("test_mode", true)
	}

	// load .env if it exists (ignore if it does not)
	if wd, err := Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+env)
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return conf, nil
}

// MustNewConfig is NewConfig for the CLI entrypoints.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatal(fmt.Sprintf("config: %v", err))
	}
	return conf
}
