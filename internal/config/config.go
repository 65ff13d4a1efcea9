// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"time"

	"github.com/automa-saga/logx"
	"github.com/joomcode/errorx"
	"github.com/spf13/viper"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

// Config holds the global configuration for the upgrade orchestrator.
type Config struct {
	Paths     PathsConfig        `yaml:"paths" json:"paths"`
	Services  ServicesConfig     `yaml:"services" json:"services"`
	Database  DatabaseConfig     `yaml:"database" json:"database"`
	Readiness ReadinessConfig    `yaml:"readiness" json:"readiness"`
	Log       logx.LoggingConfig `yaml:"log" json:"log"`
}

// PathsConfig collects the on-disk contract shared with the rest of the
// plugin: credential files, marker/state locations and the Nextcloud tree.
type PathsConfig struct {
	NextcloudRoot      string `yaml:"nextcloudRoot" json:"nextcloudRoot"`
	OccPath            string `yaml:"occPath" json:"occPath"`
	NextcloudConfigDir string `yaml:"nextcloudConfigDir" json:"nextcloudConfigDir"`
	PHPBinary          string `yaml:"phpBinary" json:"phpBinary"`
	RunAsUser          string `yaml:"runAsUser" json:"runAsUser"`

	StateDir   string `yaml:"stateDir" json:"stateDir"`
	BackupRoot string `yaml:"backupRoot" json:"backupRoot"`
	LogsDir    string `yaml:"logsDir" json:"logsDir"`
	LockFile   string `yaml:"lockFile" json:"lockFile"`

	CertDir         string `yaml:"certDir" json:"certDir"`
	CustomSSLMarker string `yaml:"customSslMarker" json:"customSslMarker"`

	DBUserFile     string `yaml:"dbUserFile" json:"dbUserFile"`
	DBPasswordFile string `yaml:"dbPasswordFile" json:"dbPasswordFile"`

	// FallbackDumpFile is an optional caller-supplied MySQL dump used when
	// neither the last-backup pointer nor the backup directory glob finds one.
	FallbackDumpFile string `yaml:"fallbackDumpFile" json:"fallbackDumpFile"`
}

// ServicesConfig names the rc.d services the orchestrator manages.
type ServicesConfig struct {
	RcConfPath string `yaml:"rcConfPath" json:"rcConfPath"`

	MySQL      string `yaml:"mysql" json:"mysql"`
	PostgreSQL string `yaml:"postgresql" json:"postgresql"`
	WebServer  string `yaml:"webServer" json:"webServer"`
	PHPFpm     string `yaml:"phpFpm" json:"phpFpm"`
	Cache      string `yaml:"cache" json:"cache"`
	Fail2ban   string `yaml:"fail2ban" json:"fail2ban"`
}

// Managed returns the full set of services touched by pre/post update, in
// stop order (web frontend first, database last).
func (s ServicesConfig) Managed() []string {
	return []string{s.Fail2ban, s.WebServer, s.PHPFpm, s.Cache, s.MySQL, s.PostgreSQL}
}

// DatabaseConfig describes the Nextcloud database on both backends.
type DatabaseConfig struct {
	Name         string `yaml:"name" json:"name"`
	Host         string `yaml:"host" json:"host"`
	MySQLPort    int    `yaml:"mysqlPort" json:"mysqlPort"`
	PostgresPort int    `yaml:"postgresPort" json:"postgresPort"`

	// AdminUser is the PostgreSQL superuser used for idempotent role and
	// database creation during conversion.
	AdminUser string `yaml:"adminUser" json:"adminUser"`
}

// ReadinessConfig bounds all synchronous polling loops.
type ReadinessConfig struct {
	Attempts int           `yaml:"attempts" json:"attempts"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

var globalConfig = Config{
	Paths: PathsConfig{
		NextcloudRoot:      "/usr/local/www/nextcloud",
		OccPath:            "/usr/local/www/nextcloud/occ",
		NextcloudConfigDir: "/usr/local/www/nextcloud/config",
		PHPBinary:          "/usr/local/bin/php",
		RunAsUser:          "www",

		StateDir:   "/var/db/ncadm",
		BackupRoot: "/root/nc-backups",
		LogsDir:    "/var/log/ncadm",
		LockFile:   "/var/run/ncadm.lock",

		CertDir:         "/usr/local/etc/ssl/nextcloud",
		CustomSSLMarker: "/usr/local/etc/ssl/nextcloud/.custom",

		DBUserFile:     "/root/dbuser",
		DBPasswordFile: "/root/dbpassword",
	},
	Services: ServicesConfig{
		RcConfPath: "/etc/rc.conf",
		MySQL:      "mysql-server",
		PostgreSQL: "postgresql",
		WebServer:  "nginx",
		PHPFpm:     "php_fpm",
		Cache:      "redis",
		Fail2ban:   "fail2ban",
	},
	Database: DatabaseConfig{
		Name:         "nextcloud",
		Host:         "localhost",
		MySQLPort:    3306,
		PostgresPort: 5432,
		AdminUser:    "postgres",
	},
	Readiness: ReadinessConfig{
		Attempts: 30,
		Interval: 2 * time.Second,
	},
	Log: logx.LoggingConfig{
		Level:          "Info",
		ConsoleLogging: true,
		FileLogging:    false,
	},
}

// Initialize loads the configuration from the specified file. An empty path
// keeps the built-in defaults, overridable via NCADM_* environment variables.
func Initialize(path string) error {
	if path != "" {
		globalConfig = Config{}
		viper.Reset()
		viper.SetConfigFile(path)
		viper.SetEnvPrefix("NCADM")
		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		err := viper.ReadInConfig()
		if err != nil {
			return core.ConfigNotFound.Wrap(err, "failed to read config file: %s", path).
				WithProperty(errorx.PropertyPayload(), path)
		}

		if err := viper.Unmarshal(&globalConfig); err != nil {
			return errorx.IllegalFormat.Wrap(err, "failed to parse configuration").
				WithProperty(errorx.PropertyPayload(), path)
		}
	}

	return nil
}

// Get returns the loaded configuration.
func Get() *Config {
	return &globalConfig
}

// Validate validates configuration fields that have no safe zero value.
func (c Config) Validate() error {
	if c.Paths.NextcloudRoot == "" {
		return errorx.IllegalArgument.New("paths.nextcloudRoot must not be empty")
	}
	if c.Paths.StateDir == "" {
		return errorx.IllegalArgument.New("paths.stateDir must not be empty")
	}
	if c.Paths.BackupRoot == "" {
		return errorx.IllegalArgument.New("paths.backupRoot must not be empty")
	}
	if c.Database.Name == "" {
		return errorx.IllegalArgument.New("database.name must not be empty")
	}
	if c.Readiness.Attempts <= 0 {
		return errorx.IllegalArgument.New("readiness.attempts must be positive")
	}
	return nil
}
