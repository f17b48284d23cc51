package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/netops/pkg/logger"
	"github.com/sshcollectorpro/netops/pkg/ssh"
)

// EnvPrefix 环境变量前缀，例如 NETOPS_BATCH_WORKERS
const EnvPrefix = "NETOPS"

// Config 应用配置结构
type Config struct {
	Site        string            `mapstructure:"site"`
	HostsFile   string            `mapstructure:"hosts_file"`
	Session     ssh.SessionConfig `mapstructure:"session"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Output      OutputConfig      `mapstructure:"output"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         logger.Config     `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

// BatchConfig 批量执行配置
type BatchConfig struct {
	// Workers 并发设备数，<=1 为顺序执行
	Workers int  `mapstructure:"workers"`
	DryRun  bool `mapstructure:"dry_run"`
}

// CredentialsConfig 加密凭据文件
type CredentialsConfig struct {
	KeyFile string `mapstructure:"key_file"`
	File    string `mapstructure:"file"`
	UserKey string `mapstructure:"user_key"`
	PassKey string `mapstructure:"pass_key"`
}

// OutputConfig 结果文件输出配置
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
	// Snapshot 快照类型：base | daytime | none | auto（auto 按小时推断）
	Snapshot string `mapstructure:"snapshot"`
	// Debug 额外写入每台设备的原始输出
	Debug bool `mapstructure:"debug"`
}

// StorageConfig 结果归档配置
type StorageConfig struct {
	// Backend 存储后端：local | minio | none
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地归档配置
type LocalStorageConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// JobsConfig 各作业的命令与参数
type JobsConfig struct {
	Show      ShowJobConfig      `mapstructure:"show"`
	ClearDHCP ClearDHCPJobConfig `mapstructure:"clear_dhcp"`
	DHCPPool  DHCPPoolJobConfig  `mapstructure:"dhcp_pool"`
	Banner    BannerJobConfig    `mapstructure:"banner"`
	Routes    RoutesJobConfig    `mapstructure:"routes"`
	WLC       WLCJobConfig       `mapstructure:"wlc"`
}

// ShowJobConfig 单命令采集
type ShowJobConfig struct {
	Command string `mapstructure:"command"`
}

// ClearDHCPJobConfig 清除 DHCP 绑定
type ClearDHCPJobConfig struct {
	Command       string `mapstructure:"command"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

// DHCPPoolJobConfig DHCP 地址池下发与校验
type DHCPPoolJobConfig struct {
	Lines         []string `mapstructure:"lines"`
	VerifyCommand string   `mapstructure:"verify_command"`
	MaxIterations int      `mapstructure:"max_iterations"`
	Output        string   `mapstructure:"output"`
}

// BannerJobConfig 登录横幅下发（Junos）
type BannerJobConfig struct {
	Message       string `mapstructure:"message"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

// RoutesJobConfig 路由采集与比对
type RoutesJobConfig struct {
	Command     string `mapstructure:"command"`
	SiteSubnets string `mapstructure:"site_subnets"`
}

// WLCJobConfig 无线控制器 HA 校验
type WLCJobConfig struct {
	Commands []string `mapstructure:"commands"`
}

// Option 加载前对 viper 实例的额外设置（例如绑定命令行参数）
type Option func(v *viper.Viper) error

var globalConfig *Config

// Load 加载配置：默认值 < 配置文件 < 环境变量 < 命令行参数
// configPath 为空时按默认路径查找 config.yaml，找不到文件时仅使用默认值
func Load(configPath string, opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("failed to apply config option: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Session.Password = expandEnv(cfg.Session.Password)
	cfg.Storage.Minio.SecretKey = expandEnv(cfg.Storage.Minio.SecretKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := ssh.DefaultSessionConfig()
	v.SetDefault("site", "LON")
	v.SetDefault("hosts_file", "hosts.txt")

	// 会话参数与设备脚本保持一致：0.5s 轮询、20 轮、2s 读超时、1s 横幅等待
	v.SetDefault("session.port", d.Port)
	v.SetDefault("session.connect_timeout", d.ConnectTimeout)
	v.SetDefault("session.read_timeout", d.ReadTimeout)
	v.SetDefault("session.poll_interval", d.PollInterval)
	v.SetDefault("session.max_iterations", d.MaxIterations)
	v.SetDefault("session.banner_grace", d.BannerGrace)
	v.SetDefault("session.read_size", d.ReadSize)
	v.SetDefault("session.prompt_terminators", d.PromptTerminators)
	v.SetDefault("session.paging_marker", d.PagingMarker)
	v.SetDefault("session.paging_response", d.PagingResponse)
	v.SetDefault("session.command_terminator", d.CommandTerminator)

	v.SetDefault("batch.workers", 1)
	v.SetDefault("batch.dry_run", false)

	v.SetDefault("credentials.key_file", "secret.key")
	v.SetDefault("credentials.file", "credentials.txt.enc")
	v.SetDefault("credentials.user_key", "device_user")
	v.SetDefault("credentials.pass_key", "device_pass")

	v.SetDefault("output.dir", "outputs")
	v.SetDefault("output.snapshot", "auto")
	v.SetDefault("output.debug", false)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "netops")
	v.SetDefault("storage.local.base_dir", "./data/archive")
	v.SetDefault("storage.local.mkdir_if_missing", true)
	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.bucket", "netops")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.sqlite.path", "./data/netops.db")
	v.SetDefault("database.sqlite.max_idle_conns", 5)
	v.SetDefault("database.sqlite.max_open_conns", 1)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/netops.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("jobs.show.command", "sh run | sec dhcp")
	v.SetDefault("jobs.clear_dhcp.command", "clear ip dhcp binding vrf GUEST *")
	v.SetDefault("jobs.clear_dhcp.max_iterations", 10)
	v.SetDefault("jobs.dhcp_pool.lines", []string{"ip dhcp pool GUEST", " vrf GUEST", " lease 0 4"})
	v.SetDefault("jobs.dhcp_pool.verify_command", "show running-config | section ip dhcp pool GUEST")
	v.SetDefault("jobs.dhcp_pool.max_iterations", 120)
	v.SetDefault("jobs.dhcp_pool.output", "combined_dhcp_pool_GUEST.txt")
	v.SetDefault("jobs.banner.max_iterations", 40)
	v.SetDefault("jobs.routes.command", "show route all")
	v.SetDefault("jobs.wlc.commands", []string{
		"show redundancy",
		"show wireless summary",
		"sh wireless  mobility controller ap",
		"sh wireless  mobility controller client summary",
	})
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch strings.ToLower(c.Output.Snapshot) {
	case "", "auto", "base", "daytime", "none":
	default:
		return fmt.Errorf("invalid output.snapshot %q (want base|daytime|none|auto)", c.Output.Snapshot)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", "none", "local", "minio":
	default:
		return fmt.Errorf("invalid storage.backend %q (want local|minio|none)", c.Storage.Backend)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("invalid batch.workers %d", c.Batch.Workers)
	}
	return nil
}

// Get 获取最近一次加载的配置（仅供 HTTP 服务等长生命周期组件使用）
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandEnv 支持 ${VAR} 形式的取值
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		if value := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); value != "" {
			return value
		}
	}
	return s
}
