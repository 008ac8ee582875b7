package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICE struct {
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepaliveInterval   time.Duration `mapstructure:"keepalive_interval"`
}

type Media struct {
	Audio       bool   `mapstructure:"audio"`
	Video       bool   `mapstructure:"video"`
	MinWidth    int    `mapstructure:"min_width"`
	IdealWidth  int    `mapstructure:"ideal_width"`
	MaxWidth    int    `mapstructure:"max_width"`
	MinHeight   int    `mapstructure:"min_height"`
	IdealHeight int    `mapstructure:"ideal_height"`
	MaxHeight   int    `mapstructure:"max_height"`
	FacingMode  string `mapstructure:"facing_mode"`
}

type StartLimit struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	SignalURL  string        `mapstructure:"signal_url"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	ICEServers     []ICEServer   `mapstructure:"ice_servers"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ICE            ICE           `mapstructure:"ice"`
	Media          Media         `mapstructure:"media"`
	StartLimit     StartLimit    `mapstructure:"start_limit"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). CONSULT_*
// environment variables override file values.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("consult")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Constraints().Validate(); err != nil {
		return nil, fmt.Errorf("media config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Bool("hub", cfg.SignalURL == "").
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "consult-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
		{"urls": []string{"stun:stun1.l.google.com:19302"}},
	})
	v.SetDefault("connect_timeout", "30s")
	v.SetDefault("ice.disconnected_timeout", "5s")
	v.SetDefault("ice.failed_timeout", "25s")
	v.SetDefault("ice.keepalive_interval", "2s")

	d := domain.DefaultConstraints()
	v.SetDefault("media.audio", d.Audio)
	v.SetDefault("media.video", d.Video != nil)
	v.SetDefault("media.min_width", d.Video.MinWidth)
	v.SetDefault("media.ideal_width", d.Video.IdealWidth)
	v.SetDefault("media.max_width", d.Video.MaxWidth)
	v.SetDefault("media.min_height", d.Video.MinHeight)
	v.SetDefault("media.ideal_height", d.Video.IdealHeight)
	v.SetDefault("media.max_height", d.Video.MaxHeight)
	v.SetDefault("media.facing_mode", string(d.Video.FacingMode))

	v.SetDefault("start_limit.attempts", 5)
	v.SetDefault("start_limit.interval", "1m")
}

// Constraints is the capture request every call on this server makes.
func (c *Config) Constraints() domain.Constraints {
	out := domain.Constraints{Audio: c.Media.Audio}
	if c.Media.Video {
		out.Video = &domain.VideoConstraints{
			MinWidth:    c.Media.MinWidth,
			IdealWidth:  c.Media.IdealWidth,
			MaxWidth:    c.Media.MaxWidth,
			MinHeight:   c.Media.MinHeight,
			IdealHeight: c.Media.IdealHeight,
			MaxHeight:   c.Media.MaxHeight,
			FacingMode:  domain.FacingMode(c.Media.FacingMode),
		}
	}
	return out
}

func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
