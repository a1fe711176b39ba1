package dbconn

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/block/replgate/pkg/utils"
	"github.com/go-sql-driver/mysql"
)

const (
	verifyCATLSConfigName = "replgate_verify_ca"
	verifyIDTLSConfigName = "replgate_verify_identity"
	maxConnLifetime       = time.Minute * 3
)

// NewCustomTLSConfig creates a TLS config that verifies the server against
// the CA certificates in certData. VERIFY_CA skips hostname verification.
func NewCustomTLSConfig(certData []byte, sslMode string) (*tls.Config, error) {
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(certData) {
		return nil, errors.New("no valid certificates found in TLS CA file")
	}
	switch sslMode {
	case "VERIFY_CA":
		return &tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: true, // Skip all default verification
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return errors.New("no certificates provided")
				}
				var certs []*x509.Certificate
				for _, rawCert := range rawCerts {
					cert, err := x509.ParseCertificate(rawCert)
					if err != nil {
						return fmt.Errorf("failed to parse certificate: %w", err)
					}
					certs = append(certs, cert)
				}
				intermediates := x509.NewCertPool()
				for _, cert := range certs[1:] {
					intermediates.AddCert(cert)
				}
				// No DNSName, so the hostname is not checked.
				if _, err := certs[0].Verify(x509.VerifyOptions{Roots: caCertPool, Intermediates: intermediates}); err != nil {
					return fmt.Errorf("certificate verification failed: %w", err)
				}
				return nil
			},
		}, nil
	case "VERIFY_IDENTITY":
		return &tls.Config{RootCAs: caCertPool}, nil
	default:
		return nil, fmt.Errorf("custom CA certificates are not used with TLS mode %q", sslMode)
	}
}

// tlsParam returns the value of the driver's tls DSN parameter for config,
// registering a custom TLS config with the driver if one is needed.
func tlsParam(config *DBConfig) (string, error) {
	mode := strings.ToUpper(config.TLSMode)
	switch mode {
	case "DISABLED":
		return "false", nil
	case "", "PREFERRED":
		return "preferred", nil
	case "REQUIRED":
		return "skip-verify", nil
	case "VERIFY_CA", "VERIFY_IDENTITY":
		if config.TLSCertificatePath == "" {
			if mode == "VERIFY_CA" {
				return "", errors.New("TLS mode VERIFY_CA requires a CA certificate")
			}
			return "true", nil // system roots
		}
		certData, err := os.ReadFile(config.TLSCertificatePath)
		if err != nil {
			return "", err
		}
		tlsConfig, err := NewCustomTLSConfig(certData, mode)
		if err != nil {
			return "", err
		}
		name := verifyIDTLSConfigName
		if mode == "VERIFY_CA" {
			name = verifyCATLSConfigName
		}
		if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil {
			return "", err
		}
		return name, nil
	default:
		return "", fmt.Errorf("unknown TLS mode %q", config.TLSMode)
	}
}

// newDSN returns a new DSN to be used to connect to a replica.
// It accepts a DSN as input and appends the options used by the lag
// monitors to it.
func newDSN(dsn string, config *DBConfig) (string, error) {
	if _, err := mysql.ParseDSN(dsn); err != nil {
		return "", err
	}
	tlsValue, err := tlsParam(config)
	if err != nil {
		return "", err
	}
	var ops []string
	ops = append(ops, fmt.Sprintf("%s=%s", "tls", url.QueryEscape(tlsValue)))
	ops = append(ops, fmt.Sprintf("%s=%s", "timeout", config.ConnectTimeout))
	ops = append(ops, fmt.Sprintf("%s=%s", "readTimeout", config.ReadTimeout))
	// The lag monitors never write.
	ops = append(ops, fmt.Sprintf("%s=%s", "transaction_read_only", "1"))
	ops = append(ops, fmt.Sprintf("%s=%s", "time_zone", url.QueryEscape(`"+00:00"`)))
	// Allow mysql_native_password authentication
	ops = append(ops, fmt.Sprintf("%s=%s", "allowNativePasswords", "true"))

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join(ops, "&"), nil
}

// New is similar to sql.Open except we take the inputDSN and
// append additional options to it to standardize the connection.
// It will also ping the connection to ensure it is valid.
func New(inputDSN string, config *DBConfig) (*sql.DB, error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		utils.ErrInErr(db.Close())
		return nil, err
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	return db, nil
}
