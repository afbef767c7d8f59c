package config

import (
	"os"
	"strconv"
)

// DatabaseConfig Postgres 状态存储配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Config medbase 配置
type Config struct {
	// Root 数据库根目录（批次文件、结构描述文件、.mdb 文件所在目录）
	Root   string
	DBName string

	// Store 持久化后端: "file" 或 "postgres"
	Store struct {
		Backend string
	}
	Database DatabaseConfig

	Log struct {
		Level  string
		Format string
	}

	// Fetch 远程批次下载配置
	Fetch struct {
		TimeoutSeconds int
		RetryCount     int
	}
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{}
	cfg.Root = getEnv("MEDBASE_ROOT", ".")
	cfg.DBName = getEnv("MEDBASE_DB_NAME", "medical_db")

	cfg.Store.Backend = getEnv("STORE_BACKEND", "file")
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "medbase")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Fetch.TimeoutSeconds = parseInt(getEnv("FETCH_TIMEOUT", "60"), 60)
	cfg.Fetch.RetryCount = parseInt(getEnv("FETCH_RETRY_COUNT", "3"), 3)

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
