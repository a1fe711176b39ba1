// Package dbconn opens the MySQL connections used to measure replica lag.
package dbconn

import (
	"time"
)

type DBConfig struct {
	MaxOpenConnections int
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	// TLS Configuration
	TLSMode            string // TLS connection mode (DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY)
	TLSCertificatePath string // Path to custom TLS CA certificate file
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		MaxOpenConnections: 4, // one lag query at a time per replica, plus headroom
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        10 * time.Second,
		TLSMode:            "PREFERRED", // default to PREFERRED mode like MySQL
		TLSCertificatePath: "",
	}
}
