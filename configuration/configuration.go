// Package configuration loads the library settings from a YAML file with
// environment variable overrides for secrets.
package configuration

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HandsomeChen0407/cjdb/errors"
	"github.com/HandsomeChen0407/cjdb/log"
	cjdbOs "github.com/HandsomeChen0407/cjdb/utils/os"
)

type CJConnectionOptions struct {
	NameId           string `yaml:"name_id"`
	DatabaseType     string `yaml:"database_type"`
	Address          string `yaml:"address"`
	UserName         string `yaml:"user_name"`
	UserPassword     string `yaml:"user_password"`
	DatabaseName     string `yaml:"database_name"`
	ConnectionString string `yaml:"connection_string"`
	IsConnectAtStart bool   `yaml:"is_connect_at_start"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns"`
}

type CJRedisOptions struct {
	NameId        string `yaml:"name_id"`
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DatabaseIndex int    `yaml:"database_index"`
}

type CJCacheOptions struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
	// RedisNameId selects the registered redis instance when Backend is "redis".
	RedisNameId string `yaml:"redis_name_id"`
	Prefix      string `yaml:"prefix"`
}

type CJSensitiveOptions struct {
	// AesKey is the symmetric key for sensitive column values. Leave it
	// empty to pull the key from Vault instead.
	AesKey        string `yaml:"aes_key"`
	VaultAddress  string `yaml:"vault_address"`
	VaultToken    string `yaml:"vault_token"`
	VaultPath     string `yaml:"vault_path"`
	VaultKeyField string `yaml:"vault_key_field"`
}

type CJSnowflakeOptions struct {
	WorkerId int64 `yaml:"worker_id"`
}

type CJOptions struct {
	Main      CJConnectionOptions   `yaml:"main"`
	Databases []CJConnectionOptions `yaml:"databases"`
	Redis     []CJRedisOptions      `yaml:"redis"`
	Cache     CJCacheOptions        `yaml:"cache"`
	Sensitive CJSensitiveOptions    `yaml:"sensitive"`
	Snowflake CJSnowflakeOptions    `yaml:"snowflake"`
}

type CJConfigurationManager struct {
	Options  CJOptions
	IsLoaded bool
}

var Manager = CJConfigurationManager{}

// Load reads the YAML file at filename into Manager.Options, then applies
// environment overrides for the secret fields.
func (m *CJConfigurationManager) Load(filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "ERROR_IN_CONFIGURATION_LOAD_READ_FILE:%s", filename)
	}
	var options CJOptions
	err = yaml.Unmarshal(raw, &options)
	if err != nil {
		return errors.Wrapf(err, "ERROR_IN_CONFIGURATION_LOAD_UNMARSHAL:%s", filename)
	}
	m.Options = options
	m.applyEnvOverrides()
	m.IsLoaded = true
	log.Log.Infof("Configuration loaded from %s", filename)
	return nil
}

func (m *CJConfigurationManager) applyEnvOverrides() {
	o := &m.Options
	o.Sensitive.AesKey = cjdbOs.GetEnvDefaultValue("CJDB_SENSITIVE_AES_KEY", o.Sensitive.AesKey)
	o.Sensitive.VaultAddress = cjdbOs.GetEnvDefaultWithFallback([]string{"CJDB_VAULT_ADDRESS", "VAULT_ADDRESS"}, o.Sensitive.VaultAddress)
	o.Sensitive.VaultToken = cjdbOs.GetEnvDefaultWithFallback([]string{"CJDB_VAULT_TOKEN", "VAULT_TOKEN"}, o.Sensitive.VaultToken)
	o.Main.UserPassword = cjdbOs.GetEnvDefaultValue("CJDB_MAIN_DB_PASSWORD", o.Main.UserPassword)
	for i := range o.Redis {
		o.Redis[i].Password = cjdbOs.GetEnvDefaultValue("CJDB_REDIS_PASSWORD", o.Redis[i].Password)
	}
}
