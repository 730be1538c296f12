package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

// GPGKey is the signing key handed to gpg and rpmsign
type GPGKey struct {
	// Path of the armored secret key
	Path string

	// Passphrase unlocks the key; empty for unprotected keys
	Passphrase string

	// Name is the key user id, used by rpmsign
	Name string
}

// gpgHome is a throwaway GNUPGHOME holding only the imported signing key
type gpgHome struct {
	dir    string
	key    GPGKey
	runner CommandRunner
	log    logger.Logger
}

// newGPGHome creates the directory and imports key into it
func newGPGHome(ctx context.Context, runner CommandRunner, key GPGKey, log logger.Logger) (*gpgHome, error) {
	if key.Path == "" {
		return nil, fmt.Errorf("%w: gpg key path is not configured", domain.ErrConfigInvalid)
	}

	dir, err := os.MkdirTemp("", "pkgsync-gnupg-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create GNUPGHOME: %w", domain.ErrLocalIO, err)
	}
	// gpg refuses homes readable by others
	if err := os.Chmod(dir, 0700); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: chmod GNUPGHOME: %w", domain.ErrLocalIO, err)
	}

	h := &gpgHome{dir: dir, key: key, runner: runner, log: log}

	log.Info("Adding GPG key to chain.", "gpg_key_path", key.Path)
	if err := h.gpg(ctx, "--import", key.Path); err != nil {
		h.cleanup()
		return nil, err
	}
	return h, nil
}

// gpg runs gpg against this home, feeding the passphrase on stdin when set
func (h *gpgHome) gpg(ctx context.Context, args ...string) error {
	full := append([]string{"--no-tty", "--no-options"}, args...)
	var stdin io.Reader
	if h.key.Passphrase != "" {
		full = append([]string{"--batch", "--pinentry-mode", "loopback", "--passphrase-fd", "0"}, full...)
		stdin = strings.NewReader(h.key.Passphrase)
	}
	return h.runner.Run(ctx, Command{
		Name:  "gpg",
		Args:  full,
		Env:   []string{"GNUPGHOME=" + h.dir},
		Stdin: stdin,
	})
}

// detachSign writes an armored detached signature of file to out
func (h *gpgHome) detachSign(ctx context.Context, file, out string) error {
	if err := removeIfExists(out); err != nil {
		return err
	}
	h.log.Info("Creating detached signature.", "file", file, "signature", out)
	return h.gpg(ctx, "--output", out, "--armor", "--detach-sign", "--sign", file)
}

// clearSign writes a clear-signed copy of file to out
func (h *gpgHome) clearSign(ctx context.Context, file, out string) error {
	if err := removeIfExists(out); err != nil {
		return err
	}
	h.log.Info("Creating clear-signed file.", "file", file, "signed", out)
	return h.gpg(ctx, "--output", out, "--armor", "--sign", "--clearsign", file)
}

// passphraseFile stores the passphrase inside the home for tools that
// cannot take it on stdin. Returns "" for unprotected keys.
func (h *gpgHome) passphraseFile() (string, error) {
	if h.key.Passphrase == "" {
		return "", nil
	}
	p := filepath.Join(h.dir, "passphrase")
	if err := os.WriteFile(p, []byte(h.key.Passphrase), 0600); err != nil {
		return "", fmt.Errorf("%w: write passphrase file: %w", domain.ErrLocalIO, err)
	}
	return p, nil
}

func (h *gpgHome) cleanup() {
	h.log.Info("Cleaning up GNUPGHOME directory.", "gnupghome", h.dir)
	if err := os.RemoveAll(h.dir); err != nil {
		h.log.Warn("Failed to remove GNUPGHOME.", "gnupghome", h.dir, "error", err)
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", domain.ErrLocalIO, path, err)
	}
	return nil
}
