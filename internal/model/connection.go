package model

import "time"

// ConnectionKind identifies the technology behind a connection definition.
type ConnectionKind string

const (
	KindPostgres  ConnectionKind = "postgres"
	KindMySQL     ConnectionKind = "mysql"
	KindSQLite    ConnectionKind = "sqlite"
	KindSQLServer ConnectionKind = "sqlserver"
	KindOracle    ConnectionKind = "oracle"
	KindRESTAPI   ConnectionKind = "restapi"
	KindGitHub    ConnectionKind = "github"
)

// Connection is a typed definition of an external resource. Credential
// fields hold ciphertext at rest; they are decrypted only inside the probe
// immediately before use.
type Connection struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id,omitempty"`
	Name          string         `json:"name"`
	Kind          ConnectionKind `json:"kind"`

	// Location. Server/Port/Database apply to database kinds,
	// BaseURL to API kinds.
	Server   string `json:"server,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`

	// Credentials, encrypted at rest.
	Username         string `json:"username,omitempty"`
	Password         string `json:"-"`
	ConnectionString string `json:"-"`
	APIToken         string `json:"-"`

	// Optional extra DSN settings appended verbatim.
	Options string `json:"options,omitempty"`

	Active       bool       `json:"active"`
	LastTestedAt *time.Time `json:"last_tested_at,omitempty"`
	LastStatus   RunStatus  `json:"last_status,omitempty"`
	LastMessage  string     `json:"last_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsDatabase reports whether the kind speaks a database wire protocol.
func (k ConnectionKind) IsDatabase() bool {
	switch k {
	case KindPostgres, KindMySQL, KindSQLite, KindSQLServer, KindOracle:
		return true
	}
	return false
}
