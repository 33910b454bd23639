package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "password pair",
			input: "login failed for password=secret123 on db01",
			want:  "login failed for password=[REDACTED] on db01",
		},
		{
			name:  "api key pair",
			input: "request rejected: apikey=abcd1234",
			want:  "request rejected: apikey=[REDACTED]",
		},
		{
			name:  "connection string",
			input: "parse error in Server=db01;Password=hunter2;Database=orders",
			want:  "parse error in Server=db01;Password=[REDACTED];Database=orders",
		},
		{
			name:  "bearer header",
			input: `401 unauthorized with Bearer eyJhbGciOi.payload`,
			want:  "401 unauthorized with Bearer [REDACTED]",
		},
		{
			name:  "mysql dsn userinfo",
			input: "dial error for svc:hunter2@tcp(db01:3306)/orders",
			want:  "dial error for svc:[REDACTED]@tcp(db01:3306)/orders",
		},
		{
			name:  "nothing to redact",
			input: "connection refused by 10.0.0.5:5432",
			want:  "connection refused by 10.0.0.5:5432",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.input))
		})
	}
}
