package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	password := "test-password-12345"
	secrets := map[string]string{
		"GIT_TOKEN":         "ghp_test123456789",
		"ANTHROPIC_API_KEY": "sk-ant-test123",
		"OPENAI_API_KEY":    "sk-test-openai",
	}

	if err := EncryptSecretsFile(tmpDir, password, secrets); err != nil {
		t.Fatalf("EncryptSecretsFile: %v", err)
	}

	info, err := os.Stat(filepath.Join(tmpDir, secretsFileName))
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("file permissions = %04o, want 0600", info.Mode().Perm())
	}

	decrypted, err := DecryptSecretsFile(tmpDir, password)
	if err != nil {
		t.Fatalf("DecryptSecretsFile: %v", err)
	}
	for key, want := range secrets {
		if got := decrypted[key]; got != want {
			t.Errorf("secret %s = %q, want %q", key, got, want)
		}
	}
}

func TestDecryptSecretsFileRejectsWrongPassword(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EncryptSecretsFile(tmpDir, "right-password", map[string]string{"GIT_TOKEN": "x"}); err != nil {
		t.Fatalf("EncryptSecretsFile: %v", err)
	}
	if _, err := DecryptSecretsFile(tmpDir, "wrong-password"); err == nil {
		t.Fatal("expected an error decrypting with the wrong password")
	}
}

func TestDecryptSecretsFileRejectsTamperedCiphertext(t *testing.T) {
	tmpDir := t.TempDir()
	if err := EncryptSecretsFile(tmpDir, "pw", map[string]string{"GIT_TOKEN": "x"}); err != nil {
		t.Fatalf("EncryptSecretsFile: %v", err)
	}

	path := filepath.Join(tmpDir, secretsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := DecryptSecretsFile(tmpDir, "pw"); err == nil {
		t.Fatal("expected GCM authentication to reject tampered ciphertext")
	}
}

func TestGetSecretPrefersDecryptedOverEnv(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("AGENTCO_TEST_SECRET", "from-env")
	SetDecryptedSecrets(map[string]string{"AGENTCO_TEST_SECRET": "from-file"})

	got, err := GetSecret("AGENTCO_TEST_SECRET")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != "from-file" {
		t.Errorf("GetSecret = %q, want %q", got, "from-file")
	}
}

func TestGetSecretFallsBackToEnv(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	SetDecryptedSecrets(nil)
	t.Setenv("AGENTCO_TEST_SECRET_2", "from-env")

	got, err := GetSecret("AGENTCO_TEST_SECRET_2")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != "from-env" {
		t.Errorf("GetSecret = %q, want %q", got, "from-env")
	}
}

func TestGetSecretMissingReturnsError(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	SetDecryptedSecrets(nil)
	if _, err := GetSecret("AGENTCO_DEFINITELY_UNSET"); err == nil {
		t.Fatal("expected an error for an unset secret")
	}
}

func TestSecretsFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	if SecretsFileExists(tmpDir) {
		t.Fatal("expected no secrets file before EncryptSecretsFile is called")
	}
	if err := EncryptSecretsFile(tmpDir, "pw", map[string]string{}); err != nil {
		t.Fatalf("EncryptSecretsFile: %v", err)
	}
	if !SecretsFileExists(tmpDir) {
		t.Fatal("expected a secrets file after EncryptSecretsFile")
	}
}
