// Package probe executes connectivity checks against typed connection
// definitions and normalizes heterogeneous failures into a single outcome
// shape.
package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/model"
	"github.com/connwatch/connwatch/internal/secret"
)

const (
	// DefaultDatabaseTimeout bounds a database round-trip.
	DefaultDatabaseTimeout = 10 * time.Second
	// DefaultAPITimeout bounds an HTTP probe.
	DefaultAPITimeout = 30 * time.Second
)

// Credentials carries decrypted credential material for the duration of a
// single probe. It is never persisted or logged.
type Credentials struct {
	Username         string
	Password         string
	ConnectionString string
	APIToken         string
}

// Prober checks one connection kind. Implementations return the raw native
// error; the Tester classifies and sanitizes it.
type Prober interface {
	// Probe performs the connectivity round-trip. On success it returns a
	// short operator-facing message and optional metadata (e.g. server
	// version).
	Probe(ctx context.Context, conn *model.Connection, creds Credentials) (string, map[string]string, error)

	// Classify maps a native error from Probe into the normalized taxonomy.
	Classify(err error) Failure
}

// Config holds probe timeouts.
type Config struct {
	DatabaseTimeout time.Duration
	APITimeout      time.Duration
}

// Tester dispatches probes by connection kind and owns just-in-time
// credential decryption.
type Tester struct {
	logger  *zap.Logger
	cipher  *secret.Cipher
	config  Config
	probers map[model.ConnectionKind]Prober
}

// NewTester creates a tester with probes registered for every supported
// connection kind.
func NewTester(cipher *secret.Cipher, config Config, logger *zap.Logger) *Tester {
	if config.DatabaseTimeout <= 0 {
		config.DatabaseTimeout = DefaultDatabaseTimeout
	}
	if config.APITimeout <= 0 {
		config.APITimeout = DefaultAPITimeout
	}

	t := &Tester{
		logger:  logger.Named("probe"),
		cipher:  cipher,
		config:  config,
		probers: make(map[model.ConnectionKind]Prober),
	}

	t.Register(model.KindPostgres, newPostgresProbe())
	t.Register(model.KindMySQL, newMySQLProbe())
	t.Register(model.KindSQLite, newSQLiteProbe())
	t.Register(model.KindRESTAPI, newRESTProbe(config.APITimeout))
	t.Register(model.KindGitHub, newGitHubProbe(config.APITimeout))
	return t
}

// Register installs a prober for a kind, replacing any existing one.
func (t *Tester) Register(kind model.ConnectionKind, p Prober) {
	t.probers[kind] = p
}

// Test runs the connectivity check for one connection and returns a
// normalized outcome. It never returns an error: every failure mode,
// including unsupported kinds and probe panics, becomes an outcome.
func (t *Tester) Test(ctx context.Context, conn *model.Connection) model.RunOutcome {
	start := time.Now()
	outcome := t.test(ctx, conn)
	outcome.ConnectionID = conn.ID
	outcome.Duration = time.Since(start)
	outcome.Message = Redact(outcome.Message)
	outcome.Detail = Redact(outcome.Detail)
	return outcome
}

func (t *Tester) test(ctx context.Context, conn *model.Connection) (outcome model.RunOutcome) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Probe panicked",
				zap.String("connection_id", conn.ID),
				zap.Any("panic", r))
			outcome = model.RunOutcome{
				Success: false,
				Class:   model.FailureUnknown,
				Code:    string(conn.Kind) + "-panic",
				Message: "Connection test failed unexpectedly",
				Detail:  fmt.Sprint(r),
			}
		}
	}()

	prober, ok := t.probers[conn.Kind]
	if !ok {
		return model.RunOutcome{
			Success: false,
			Code:    "unsupported",
			Message: fmt.Sprintf("Connection kind %q is not supported yet", conn.Kind),
		}
	}

	timeout := t.config.APITimeout
	if conn.Kind.IsDatabase() {
		timeout = t.config.DatabaseTimeout
	}
	// The probe's own timeout is the only thing allowed to cut a check
	// short: the caller cancelling (e.g. scheduler shutdown) must not turn
	// an in-flight probe into a recorded failure.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	creds := Credentials{
		Username:         conn.Username,
		Password:         t.cipher.DecryptOrPlaintext(conn.Password),
		ConnectionString: t.cipher.DecryptOrPlaintext(conn.ConnectionString),
		APIToken:         t.cipher.DecryptOrPlaintext(conn.APIToken),
	}

	t.logger.Debug("Probing connection",
		zap.String("connection_id", conn.ID),
		zap.String("kind", string(conn.Kind)),
		zap.Duration("timeout", timeout))

	message, metadata, err := prober.Probe(ctx, conn, creds)
	if err != nil {
		failure := prober.Classify(err)
		return model.RunOutcome{
			Success:  false,
			Class:    failure.Class,
			Code:     failure.Code,
			Message:  failure.Message,
			Detail:   err.Error(),
			Metadata: metadata,
		}
	}

	return model.RunOutcome{
		Success:  true,
		Message:  message,
		Metadata: metadata,
	}
}
