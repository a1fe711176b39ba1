package topology

import (
	"fmt"

	"github.com/go-ini/ini"
	"github.com/go-sql-driver/mysql"
)

// Credentials are applied to DSNs that do not carry a user of their own.
type Credentials struct {
	User     string
	Password string
}

// LoadCredentials reads the [client] section of a my.cnf style file.
func LoadCredentials(path string) (*Credentials, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	section := cfg.Section("client")
	return &Credentials{
		User:     section.Key("user").String(),
		Password: section.Key("password").String(),
	}, nil
}

// Apply returns dsn with the credentials filled in. It is safe to call on
// nil Credentials, which leave the DSN unchanged.
func (c *Credentials) Apply(dsn string) (string, error) {
	if c == nil || c.User == "" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if cfg.User != "" {
		return dsn, nil
	}
	cfg.User = c.User
	cfg.Passwd = c.Password
	return cfg.FormatDSN(), nil
}
