// Package config 提供服务配置的加载与校验
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServiceType 服务类型
type ServiceType string

const (
	ServiceTypeAPIServer    ServiceType = "api-server"
	ServiceTypeImportWorker ServiceType = "import-worker"
	ServiceTypeCLI          ServiceType = "cli"
)

// Config 全局配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	APIServer APIServerConfig `yaml:"api_server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Parser    ParserConfig    `yaml:"parser"`
	Builder   BuilderConfig   `yaml:"builder"`
	Importer  ImporterConfig  `yaml:"importer"`
	Log       LogConfig       `yaml:"log"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string      `yaml:"name" env:"APP_NAME" default:"bc3tree"`
	Env     string      `yaml:"env" env:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	Debug   bool        `yaml:"debug" env:"APP_DEBUG" default:"false"`
	Service ServiceType `yaml:"-"`
}

// APIServerConfig API服务配置
type APIServerConfig struct {
	Mode          string        `yaml:"mode" env:"API_MODE" default:"release" validate:"oneof=debug release test"`
	Host          string        `yaml:"host" env:"API_HOST" default:"0.0.0.0"`
	Port          int           `yaml:"port" env:"API_PORT" default:"8080" validate:"min=1,max=65535"`
	Timeout       time.Duration `yaml:"timeout" env:"API_TIMEOUT" default:"60s"`
	MaxUploadSize int64         `yaml:"max_upload_size" env:"API_MAX_UPLOAD_SIZE" default:"104857600" validate:"min=1"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" env:"POSTGRES_PORT" default:"5432" validate:"min=1,max=65535"`
	Database        string        `yaml:"database" env:"POSTGRES_DB" default:"bc3tree" validate:"required"`
	Username        string        `yaml:"username" env:"POSTGRES_USER" default:"postgres"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	SSLMode         string        `yaml:"ssl_mode" env:"POSTGRES_SSLMODE" default:"disable"`
	Schema          string        `yaml:"schema" env:"POSTGRES_SCHEMA" default:"bc3tree"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"POSTGRES_CONN_MAX_IDLE_TIME" default:"5m"`
	BatchSize       int           `yaml:"batch_size" env:"POSTGRES_BATCH_SIZE" default:"500" validate:"min=1"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint" env:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"MINIO_ACCESS_KEY_ID" default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"MINIO_SECRET_ACCESS_KEY" default:"minioadmin"`
	UseSSL          bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" default:"false"`
	BucketName      string `yaml:"bucket_name" env:"MINIO_BUCKET_NAME" default:"bc3tree" validate:"required"`
	Region          string `yaml:"region" env:"MINIO_REGION" default:"us-east-1"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379" validate:"required"`
	Password   string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB         int           `yaml:"db" env:"REDIS_DB" default:"0"`
	TaskTTL    time.Duration `yaml:"task_ttl" env:"REDIS_TASK_TTL" default:"24h"`
	PopTimeout time.Duration `yaml:"pop_timeout" env:"REDIS_POP_TIMEOUT" default:"5s"`
}

// ParserConfig BC3解析器配置
type ParserConfig struct {
	Encoding          string   `yaml:"encoding" env:"PARSER_ENCODING" default:"cp1252"`
	FallbackEncodings []string `yaml:"fallback_encodings" env:"PARSER_FALLBACK_ENCODINGS" envSeparator:"," default:"[\"iso-8859-1\",\"utf-8\",\"cp850\"]"`
	FieldSeparator    string   `yaml:"field_separator" env:"PARSER_FIELD_SEPARATOR" default:"|" validate:"len=1"`
	SubFieldSeparator string   `yaml:"sub_field_separator" env:"PARSER_SUB_FIELD_SEPARATOR" default:"\\" validate:"len=1"`
	RecordPrefix      string   `yaml:"record_prefix" env:"PARSER_RECORD_PREFIX" default:"~" validate:"len=1"`
	MaxMessages       int      `yaml:"max_messages" env:"PARSER_MAX_MESSAGES" default:"1000"`
}

// BuilderConfig 树构建器配置
type BuilderConfig struct {
	EnableCodeInference bool   `yaml:"enable_code_inference" env:"BUILDER_ENABLE_CODE_INFERENCE" default:"true"`
	HierarchySeparator  string `yaml:"hierarchy_separator" env:"BUILDER_HIERARCHY_SEPARATOR" default:"." validate:"len=1"`
	MarkerChar          string `yaml:"marker_char" env:"BUILDER_MARKER_CHAR" default:"#" validate:"len=1"`
	ConflictPolicy      string `yaml:"conflict_policy" env:"BUILDER_CONFLICT_POLICY" default:"explicit_first" validate:"oneof=explicit_first inferred_first"`
}

// ImporterConfig 导入流程配置
type ImporterConfig struct {
	MaxRejectedRelations   int           `yaml:"max_rejected_relations" env:"IMPORTER_MAX_REJECTED_RELATIONS" default:"-1"`
	MaxRejectedRatio       float64       `yaml:"max_rejected_ratio" env:"IMPORTER_MAX_REJECTED_RATIO" default:"0.5" validate:"min=0,max=1"`
	FailOnValidationErrors bool          `yaml:"fail_on_validation_errors" env:"IMPORTER_FAIL_ON_VALIDATION_ERRORS" default:"true"`
	ExportFormats          []string      `yaml:"export_formats" env:"IMPORTER_EXPORT_FORMATS" envSeparator:"," default:"[\"json\",\"xlsx\"]" validate:"dive,oneof=json xlsx"`
	Timeout                time.Duration `yaml:"timeout" env:"IMPORTER_TIMEOUT" default:"5m"`
	PollInterval           time.Duration `yaml:"poll_interval" env:"IMPORTER_POLL_INTERVAL" default:"2s"`
	Concurrency            int           `yaml:"concurrency" env:"IMPORTER_CONCURRENCY" default:"2" validate:"min=1"`
	MetricsAddr            string        `yaml:"metrics_addr" env:"IMPORTER_METRICS_ADDR" default:":9091"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// LoadConfig 加载配置：默认值 -> yaml文件 -> 环境变量 -> 校验
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("设置默认配置失败: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 配置文件不存在时仅使用默认值和环境变量
		default:
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigForService 按服务类型加载配置
func LoadConfigForService(serviceType ServiceType, path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.App.Service = serviceType

	switch serviceType {
	case ServiceTypeAPIServer:
		if cfg.App.Debug {
			cfg.APIServer.Mode = "debug"
		}
	case ServiceTypeCLI:
		// 命令行不依赖外部服务
		if cfg.Log.Level == "info" && !cfg.App.Debug {
			cfg.Log.Level = "warn"
		}
	case ServiceTypeImportWorker:
	default:
		return nil, fmt.Errorf("未知的服务类型: %s", serviceType)
	}
	return cfg, nil
}

// Validate 校验配置
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if cfg.Builder.HierarchySeparator == cfg.Builder.MarkerChar {
		return fmt.Errorf("配置校验失败: hierarchy_separator 与 marker_char 不能相同")
	}
	if cfg.Parser.FieldSeparator == cfg.Parser.SubFieldSeparator {
		return fmt.Errorf("配置校验失败: field_separator 与 sub_field_separator 不能相同")
	}
	return nil
}

// DSN 生成PostgreSQL连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode, c.Schema)
}
