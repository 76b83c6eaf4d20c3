// Package security holds the TLS settings of the lookup server and of the
// clients slaves use to reach their masters.
package security

import "fmt"

// ServerMTLSConfig asks clients for certificates signed by ClientCAFiles.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty" yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty" yaml:"allowed_client_cns,omitempty"`
}

// ServerTLSConfig enables HTTPS on the lookup server.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// ClientMTLSConfig is the certificate a slave presents to its master.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// ClientTLSConfig configures HTTPS towards masters. CAFiles are trusted in
// addition to the system pool.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // testing only
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// IsZero reports whether c leaves every setting at its default.
func (c ClientTLSConfig) IsZero() bool {
	return len(c.CAFiles) == 0 && !c.InsecureSkipVerify && c.MinVersion == "" && !c.MTLS.Enabled
}

// Validate checks that enabled settings name the files they need.
func (c ServerTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("tls: cert_file and key_file are required")
	}
	if err := validateVersion(c.MinVersion); err != nil {
		return err
	}
	if c.MTLS.Enabled && len(c.MTLS.ClientCAFiles) == 0 {
		return fmt.Errorf("tls.mtls: client_ca_files is required")
	}
	return nil
}

// Validate checks the client settings.
func (c ClientTLSConfig) Validate() error {
	if err := validateVersion(c.MinVersion); err != nil {
		return err
	}
	if c.MTLS.Enabled && (c.MTLS.CertFile == "" || c.MTLS.KeyFile == "") {
		return fmt.Errorf("tls.mtls: cert_file and key_file are required")
	}
	return nil
}

func validateVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("tls: unsupported min_version %q", v)
	}
}
