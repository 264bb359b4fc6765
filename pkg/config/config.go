package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix 所有环境变量覆盖项的前缀
const envPrefix = "UNITRADE_"

// Exchanges 配置里认识的交易所（小写，和 yaml 的 key 一致）
var Exchanges = []string{"binance", "bitget", "gateio", "mexc", "blofin"}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Listen     string // 监听地址，默认 :8080
	AdminToken string // encrypt/decrypt preview 接口的管理员 token，空则关闭这两个接口
	DebugAddr  string // expvar/pprof 调试端口，空则不启动
	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout time.Duration
}

// StorageConfig 持久化配置
type StorageConfig struct {
	SQLitePath string // 订单日志 / sizing 审计 / 资金快照
	BadgerPath string // 加密凭证 KV
	BadgerKey  string // Badger 静态加密 key（32 字节 hex 或 base64），可空
}

// VaultConfig 凭证加密配置
type VaultConfig struct {
	MasterKey string // 32 字节 hex 或 base64，不会写日志
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SizingConfig 仓位计算策略
type SizingConfig struct {
	PolicyVersion            string
	MacroMultipliers         map[string]float64 // 宏观情绪 -> 乘数
	DefaultRiskLiqMultiplier float64
}

// ExchangeConfig 单个交易所的连接参数
type ExchangeConfig struct {
	BaseURL         string
	RecvWindowMs    int
	TimeoutMs       int
	MinOrderSizeUSD float64
	// OrdersPerSecond 覆盖默认下单限速；0 表示使用内置默认值
	OrdersPerSecond int
}

// RecvWindow 返回 recvWindow 时长
func (e ExchangeConfig) RecvWindow() time.Duration {
	return time.Duration(e.RecvWindowMs) * time.Millisecond
}

// Timeout 返回单次 HTTP 调用超时
func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxConsecutiveErrors int
	Cooldown             time.Duration
}

// Config 应用配置
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Vault     VaultConfig
	Log       LogConfig
	Sizing    SizingConfig
	Exchanges map[string]ExchangeConfig
	Breaker   BreakerConfig
	// SubmitTimeout 单次适配器调用的总超时（包含限速等待）
	SubmitTimeout time.Duration
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Server struct {
		Listen            string `yaml:"listen" json:"listen"`
		AdminToken        string `yaml:"admin_token" json:"admin_token"`
		DebugAddr         string `yaml:"debug_addr" json:"debug_addr"`
		ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms" json:"shutdown_timeout_ms"`
	} `yaml:"server" json:"server"`
	Storage struct {
		SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
		BadgerPath string `yaml:"badger_path" json:"badger_path"`
		BadgerKey  string `yaml:"badger_key" json:"badger_key"`
	} `yaml:"storage" json:"storage"`
	Vault struct {
		MasterKey string `yaml:"master_key" json:"master_key"`
	} `yaml:"vault" json:"vault"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
	Sizing struct {
		PolicyVersion            string             `yaml:"policy_version" json:"policy_version"`
		MacroMultipliers         map[string]float64 `yaml:"macro_multipliers" json:"macro_multipliers"`
		DefaultRiskLiqMultiplier float64            `yaml:"default_risk_liq_multiplier" json:"default_risk_liq_multiplier"`
	} `yaml:"sizing" json:"sizing"`
	Exchanges map[string]struct {
		BaseURL         string  `yaml:"base_url" json:"base_url"`
		RecvWindowMs    int     `yaml:"recv_window_ms" json:"recv_window_ms"`
		TimeoutMs       int     `yaml:"timeout_ms" json:"timeout_ms"`
		MinOrderSizeUSD float64 `yaml:"min_order_size_usd" json:"min_order_size_usd"`
		OrdersPerSecond int     `yaml:"orders_per_second" json:"orders_per_second"`
	} `yaml:"exchanges" json:"exchanges"`
	Breaker struct {
		MaxConsecutiveErrors int `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
		CooldownMs           int `yaml:"cooldown_ms" json:"cooldown_ms"`
	} `yaml:"breaker" json:"breaker"`
	SubmitTimeoutMs int `yaml:"submit_timeout_ms" json:"submit_timeout_ms"`
}

// 交易所最小下单金额默认值（USDT），来自各交易所现货 MIN_NOTIONAL
var defaultMinOrderSize = map[string]float64{
	"binance": 5,
	"bitget":  1,
	"gateio":  3,
	"mexc":    1,
	"blofin":  1,
}

// Default 返回全部默认值（MasterKey 为空，需要外部提供）
func Default() *Config {
	c := &Config{
		Server: ServerConfig{Listen: ":8080", ShutdownTimeout: 10 * time.Second},
		Storage: StorageConfig{
			SQLitePath: "data/unitrade.db",
			BadgerPath: "data/credentials",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/unitrade.log",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Sizing: SizingConfig{
			PolicyVersion:            "v1",
			MacroMultipliers:         map[string]float64{},
			DefaultRiskLiqMultiplier: 1,
		},
		Exchanges:     make(map[string]ExchangeConfig, len(Exchanges)),
		Breaker:       BreakerConfig{MaxConsecutiveErrors: 5, Cooldown: 30 * time.Second},
		SubmitTimeout: 15 * time.Second,
	}
	for _, ex := range Exchanges {
		c.Exchanges[ex] = ExchangeConfig{
			RecvWindowMs:    5000,
			TimeoutMs:       10000,
			MinOrderSizeUSD: defaultMinOrderSize[ex],
		}
	}
	return c
}

// Load 加载配置：默认值 < 配置文件 < 环境变量（UNITRADE_*）。
// filePath 为空时只用默认值和环境变量。
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	setString(&c.Server.Listen, cf.Server.Listen)
	setString(&c.Server.AdminToken, cf.Server.AdminToken)
	setString(&c.Server.DebugAddr, cf.Server.DebugAddr)
	setMillis(&c.Server.ShutdownTimeout, cf.Server.ShutdownTimeoutMs)

	setString(&c.Storage.SQLitePath, cf.Storage.SQLitePath)
	setString(&c.Storage.BadgerPath, cf.Storage.BadgerPath)
	setString(&c.Storage.BadgerKey, cf.Storage.BadgerKey)
	setString(&c.Vault.MasterKey, cf.Vault.MasterKey)

	setString(&c.Log.Level, cf.Log.Level)
	setString(&c.Log.File, cf.Log.File)
	setInt(&c.Log.MaxSizeMB, cf.Log.MaxSizeMB)
	setInt(&c.Log.MaxBackups, cf.Log.MaxBackups)
	setInt(&c.Log.MaxAgeDays, cf.Log.MaxAgeDays)
	if cf.Log.Compress != nil {
		c.Log.Compress = *cf.Log.Compress
	}

	setString(&c.Sizing.PolicyVersion, cf.Sizing.PolicyVersion)
	for k, v := range cf.Sizing.MacroMultipliers {
		c.Sizing.MacroMultipliers[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if cf.Sizing.DefaultRiskLiqMultiplier != 0 {
		c.Sizing.DefaultRiskLiqMultiplier = cf.Sizing.DefaultRiskLiqMultiplier
	}

	for name, ef := range cf.Exchanges {
		key := strings.ToLower(strings.TrimSpace(name))
		ex, ok := c.Exchanges[key]
		if !ok {
			return fmt.Errorf("未知交易所配置: %s (支持 %s)", name, strings.Join(Exchanges, ", "))
		}
		setString(&ex.BaseURL, ef.BaseURL)
		setInt(&ex.RecvWindowMs, ef.RecvWindowMs)
		setInt(&ex.TimeoutMs, ef.TimeoutMs)
		setInt(&ex.OrdersPerSecond, ef.OrdersPerSecond)
		if ef.MinOrderSizeUSD != 0 {
			ex.MinOrderSizeUSD = ef.MinOrderSizeUSD
		}
		c.Exchanges[key] = ex
	}

	setInt(&c.Breaker.MaxConsecutiveErrors, cf.Breaker.MaxConsecutiveErrors)
	setMillis(&c.Breaker.Cooldown, cf.Breaker.CooldownMs)
	setMillis(&c.SubmitTimeout, cf.SubmitTimeoutMs)
	return nil
}

// applyEnv 环境变量覆盖（优先级最高）
func (c *Config) applyEnv() {
	c.Server.Listen = getEnv("LISTEN", c.Server.Listen)
	c.Server.AdminToken = getEnv("ADMIN_TOKEN", c.Server.AdminToken)
	c.Server.DebugAddr = getEnv("DEBUG_ADDR", c.Server.DebugAddr)
	c.Server.ShutdownTimeout = parseMillisEnv("SHUTDOWN_TIMEOUT_MS", c.Server.ShutdownTimeout)

	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.BadgerPath = getEnv("BADGER_PATH", c.Storage.BadgerPath)
	c.Storage.BadgerKey = getEnv("BADGER_KEY", c.Storage.BadgerKey)
	c.Vault.MasterKey = getEnv("MASTER_KEY", c.Vault.MasterKey)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Sizing.PolicyVersion = getEnv("POLICY_VERSION", c.Sizing.PolicyVersion)
	c.Sizing.DefaultRiskLiqMultiplier = parseFloatEnv("DEFAULT_RISK_LIQ_MULTIPLIER", c.Sizing.DefaultRiskLiqMultiplier)

	for _, name := range Exchanges {
		ex := c.Exchanges[name]
		p := strings.ToUpper(name) + "_"
		ex.BaseURL = getEnv(p+"BASE_URL", ex.BaseURL)
		ex.RecvWindowMs = parseIntEnv(p+"RECV_WINDOW_MS", ex.RecvWindowMs)
		ex.TimeoutMs = parseIntEnv(p+"TIMEOUT_MS", ex.TimeoutMs)
		ex.MinOrderSizeUSD = parseFloatEnv(p+"MIN_ORDER_SIZE_USD", ex.MinOrderSizeUSD)
		ex.OrdersPerSecond = parseIntEnv(p+"ORDERS_PER_SECOND", ex.OrdersPerSecond)
		c.Exchanges[name] = ex
	}

	c.Breaker.MaxConsecutiveErrors = parseIntEnv("BREAKER_MAX_ERRORS", c.Breaker.MaxConsecutiveErrors)
	c.Breaker.Cooldown = parseMillisEnv("BREAKER_COOLDOWN_MS", c.Breaker.Cooldown)
	c.SubmitTimeout = parseMillisEnv("SUBMIT_TIMEOUT_MS", c.SubmitTimeout)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vault.MasterKey) == "" {
		return fmt.Errorf("%sMASTER_KEY 未配置", envPrefix)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen 不能为空")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path 不能为空")
	}
	if c.Storage.BadgerPath == "" {
		return fmt.Errorf("storage.badger_path 不能为空")
	}
	if c.Sizing.DefaultRiskLiqMultiplier <= 0 {
		return fmt.Errorf("sizing.default_risk_liq_multiplier 必须大于 0")
	}
	for _, k := range sortedKeys(c.Sizing.MacroMultipliers) {
		if c.Sizing.MacroMultipliers[k] <= 0 {
			return fmt.Errorf("sizing.macro_multipliers[%s] 必须大于 0", k)
		}
	}
	for _, name := range Exchanges {
		ex := c.Exchanges[name]
		if ex.RecvWindowMs <= 0 || ex.RecvWindowMs > 60000 {
			return fmt.Errorf("exchanges.%s.recv_window_ms 必须在 1 到 60000 之间", name)
		}
		if ex.TimeoutMs <= 0 {
			return fmt.Errorf("exchanges.%s.timeout_ms 必须大于 0", name)
		}
		if ex.MinOrderSizeUSD < 0 {
			return fmt.Errorf("exchanges.%s.min_order_size_usd 不能为负数", name)
		}
		if ex.OrdersPerSecond < 0 {
			return fmt.Errorf("exchanges.%s.orders_per_second 不能为负数", name)
		}
	}
	if c.Breaker.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("breaker.max_consecutive_errors 不能为负数")
	}
	if c.Breaker.Cooldown < 0 {
		return fmt.Errorf("breaker.cooldown_ms 不能为负数")
	}
	return nil
}

// MinOrderSizes 按交易所返回最小下单金额
func (c *Config) MinOrderSizes() map[string]float64 {
	out := make(map[string]float64, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		out[name] = ex.MinOrderSizeUSD
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setMillis(dst *time.Duration, ms int) {
	if ms != 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

// getEnv 获取环境变量（自动加 UNITRADE_ 前缀）
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	if v := getEnv(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}
