package services

import (
	"strings"
	"testing"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
)

func TestInferApiType(t *testing.T) {
	tests := []struct {
		secret string
		want   models.ApiType
	}{
		{"279a2e9d-83b3-c416-7e2d-f721593e42a0:fx", models.ApiTypeStandard},
		{"279a2e9d-83b3-c416-7e2d-f721593e42a0", models.ApiTypePro},
		{":fx", models.ApiTypeStandard},
		{"", models.ApiTypePro},
	}

	for _, tt := range tests {
		if got := InferApiType(tt.secret); got != tt.want {
			t.Errorf("InferApiType(%q) = %s, want %s", tt.secret, got, tt.want)
		}
	}
}

func TestDefaultKeyName(t *testing.T) {
	tests := []struct {
		secret string
		want   string
	}{
		{"279a2e9d-83b3-c416-7e2d-f721593e42a0:fx", "API-e42a0:fx"},
		{"abc", "API-abc"},
		{"12345678", "API-12345678"},
	}

	for _, tt := range tests {
		if got := DefaultKeyName(tt.secret); got != tt.want {
			t.Errorf("DefaultKeyName(%q) = %q, want %q", tt.secret, got, tt.want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	long := "279a2e9d-83b3-c416-7e2d-f721593e42a0:fx"
	got := MaskSecret(long)
	if got != "279a2e9d-8...93e42a0:fx" {
		t.Errorf("MaskSecret(long) = %q, want 279a2e9d-8...93e42a0:fx", got)
	}
	if strings.Contains(got, long[11:len(long)-11]) {
		t.Errorf("mask leaked middle of secret: %q", got)
	}

	if got := MaskSecret("abcdefghij"); got != "abcd...ghij" {
		t.Errorf("MaskSecret(medium) = %q, want abcd...ghij", got)
	}
	if got := MaskSecret("short"); got != "****" {
		t.Errorf("MaskSecret(short) = %q, want ****", got)
	}
}

func TestSecretDigest_Deterministic(t *testing.T) {
	a := secretDigest("secret-one")
	b := secretDigest("secret-one")
	c := secretDigest("secret-two")

	if a != b {
		t.Error("same secret should produce the same digest")
	}
	if a == c {
		t.Error("different secrets should produce different digests")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}
