package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/marketsync/internal/config"
)

// BuildConnString assembles a postgres:// URL from config. Credentials
// are percent-encoded, so passwords containing URL metacharacters work.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}
