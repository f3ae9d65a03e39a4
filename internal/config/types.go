package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"fishermon/internal/strategy"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig         `mapstructure:"app"`
	Exchange ExchangeConfig    `mapstructure:"exchange"`
	Trader   TraderConfig      `mapstructure:"trader"`
	Bids     strategy.Strategy `mapstructure:"bids"`
	Asks     strategy.Strategy `mapstructure:"asks"`
	Database DatabaseConfig    `mapstructure:"database"`
	Logging  LoggingConfig     `mapstructure:"logging"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name         string            `mapstructure:"name"`
	Market       string            `mapstructure:"market"`
	APIKey       string            `mapstructure:"api_key"`
	APISecret    string            `mapstructure:"api_secret"`
	APIPass      string            `mapstructure:"api_password"`
	Wallet       string            `mapstructure:"wallet_address"`
	PrivateKey   string            `mapstructure:"private_key"`
	Production   bool              `mapstructure:"production"`
	DryRun       bool              `mapstructure:"dry_run"`
	RateLimit    float64           `mapstructure:"rate_limit"`
	RateBurst    int               `mapstructure:"rate_burst"`
	BookDepth    int               `mapstructure:"book_depth"`
	PaperBalance map[string]string `mapstructure:"paper_balance"`
}

// TraderConfig 控制交易循环节奏。
type TraderConfig struct {
	SleepFor time.Duration `mapstructure:"sleep_for"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Retry    RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 控制重试策略，零值保持无限重试、固定间隔。
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxCooldown   time.Duration `mapstructure:"max_cooldown"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制运行日志与查询接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Market == "" {
		err = multierr.Append(err, errors.New("exchange.market 不能为空"))
	}
	if !c.Exchange.DryRun && c.Exchange.APIKey == "" && c.Exchange.Wallet == "" {
		err = multierr.Append(err, errors.New("exchange.api_key 不能为空"))
	}
	if strings.EqualFold(c.Exchange.Name, "hyperliquid") && !c.Exchange.DryRun {
		if c.Exchange.Wallet == "" || c.Exchange.PrivateKey == "" {
			err = multierr.Append(err, errors.New("hyperliquid 交易需要配置 wallet_address 与 private_key"))
		}
	}
	if c.Exchange.RateLimit < 0 {
		err = multierr.Append(err, errors.New("exchange.rate_limit 不能为负"))
	}
	if c.Exchange.RateLimit > 0 && c.Exchange.RateBurst <= 0 {
		err = multierr.Append(err, errors.New("exchange.rate_burst 必须大于0"))
	}
	if c.Exchange.BookDepth <= 0 {
		err = multierr.Append(err, errors.New("exchange.book_depth 必须大于0"))
	}
	if c.Trader.SleepFor < 0 {
		err = multierr.Append(err, errors.New("trader.sleep_for 不能为负"))
	}
	if c.Trader.Cooldown < 0 {
		err = multierr.Append(err, errors.New("trader.cooldown 不能为负"))
	}
	if c.Trader.Retry.MaxAttempts < 0 {
		err = multierr.Append(err, errors.New("trader.retry.max_attempts 不能为负"))
	}
	if c.Trader.Retry.BackoffFactor != 0 && c.Trader.Retry.BackoffFactor < 1 {
		err = multierr.Append(err, errors.New("trader.retry.backoff_factor 不能小于1"))
	}
	if c.Trader.Retry.MaxCooldown < 0 {
		err = multierr.Append(err, errors.New("trader.retry.max_cooldown 不能为负"))
	}
	if e := c.Bids.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("bids: %w", e))
	} else if !c.Bids.IsBid() {
		err = multierr.Append(err, errors.New("bids.price_delta 必须为负"))
	}
	if e := c.Asks.Validate(); e != nil {
		err = multierr.Append(err, fmt.Errorf("asks: %w", e))
	} else if !c.Asks.IsAsk() {
		err = multierr.Append(err, errors.New("asks.price_delta 必须为正"))
	}
	if c.Monitor.Enabled {
		if c.Database.Path == "" && !c.Database.InMemory {
			err = multierr.Append(err, errors.New("database.path 不能为空"))
		}
		if c.Database.MaxOpenConns <= 0 {
			err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
		}
		if c.Database.MaxIdleConns < 0 {
			err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
		}
		if c.Database.ConnMaxLifetime < 0 {
			err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
		}
		if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
			err = multierr.Append(err, errors.New("monitor.port 应位于[0,65535]"))
		}
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
