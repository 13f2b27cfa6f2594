package secrets

import (
	"context"
	"testing"
)

func TestNewEncryptedProvider_RejectsBadKeys(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewEncryptedProvider("", dir); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewEncryptedProvider("not-base64!!", dir); err == nil {
		t.Error("expected error for non-base64 key")
	}

	shortKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	_ = shortKey
	if _, err := NewEncryptedProvider("c2hvcnQ=", dir); err == nil {
		t.Error("expected error for key that decodes to fewer than 32 bytes")
	}
}

func TestEncryptedProvider_SetGetDeleteRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	p, err := NewEncryptedProvider(key, t.TempDir())
	if err != nil {
		t.Fatalf("NewEncryptedProvider: %v", err)
	}

	ctx := context.Background()
	if _, err := p.Get(ctx, "source/password"); err != ErrSecretNotFound {
		t.Errorf("expected ErrSecretNotFound before Set, got %v", err)
	}

	if err := p.Set(ctx, "source/password", "hunter2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get(ctx, "source/password")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Get = %q, want %q", got, "hunter2")
	}

	if err := p.Delete(ctx, "source/password"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get(ctx, "source/password"); err != ErrSecretNotFound {
		t.Errorf("expected ErrSecretNotFound after Delete, got %v", err)
	}
	if err := p.Delete(ctx, "source/password"); err != ErrSecretNotFound {
		t.Errorf("expected ErrSecretNotFound deleting an already-deleted key, got %v", err)
	}
}

func TestEncryptedProvider_PersistsAcrossReopen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	dir := t.TempDir()

	p1, err := NewEncryptedProvider(key, dir)
	if err != nil {
		t.Fatalf("NewEncryptedProvider: %v", err)
	}
	if err := p1.Set(context.Background(), "target/password", "s3cr3t"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	p2, err := NewEncryptedProvider(key, dir)
	if err != nil {
		t.Fatalf("NewEncryptedProvider (reopen): %v", err)
	}
	got, err := p2.Get(context.Background(), "target/password")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != "s3cr3t" {
		t.Errorf("Get after reopen = %q, want %q", got, "s3cr3t")
	}
}

func TestEncryptedProvider_WrongKeyFailsToDecrypt(t *testing.T) {
	key1, _ := GenerateKey()
	dir := t.TempDir()

	p1, err := NewEncryptedProvider(key1, dir)
	if err != nil {
		t.Fatalf("NewEncryptedProvider: %v", err)
	}
	if err := p1.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	key2, _ := GenerateKey()
	if _, err := NewEncryptedProvider(key2, dir); err == nil {
		t.Error("expected reopening with a different key to fail decryption")
	}
}

func TestEncryptedProvider_Name(t *testing.T) {
	key, _ := GenerateKey()
	p, err := NewEncryptedProvider(key, t.TempDir())
	if err != nil {
		t.Fatalf("NewEncryptedProvider: %v", err)
	}
	if p.Name() != "encrypted" {
		t.Errorf("Name() = %q, want %q", p.Name(), "encrypted")
	}
}

func TestGenerateKey_ProducesUsableKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := NewEncryptedProvider(key, t.TempDir()); err != nil {
		t.Errorf("generated key rejected by NewEncryptedProvider: %v", err)
	}
}
