package crypt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	werrors "github.com/wogdump/wogdump/internal/errors"
	logger "github.com/wogdump/wogdump/internal/logging"
)

// KeySalt is appended to the service-issued base key before hashing.
// The game client derives its asset cipher keys the same way.
const KeySalt = "World of Guns: Gun Disassembly"

// DefaultChunkSize matches the upstream cipher's 8 KiB streaming unit.
const DefaultChunkSize = 8192

// DeriveKey turns a service-issued base key into the XOR keystream.
func DeriveKey(base string) string {
	// #nosec G401 -- MD5 is the upstream key schedule, not an integrity check.
	sum := md5.Sum([]byte(base + KeySalt))
	return hex.EncodeToString(sum[:])
}

// Decryptor streams XOR decryption over asset files.
type Decryptor struct {
	chunkSize int
	log       logger.Logger
}

// NewDecryptor returns a decryptor using the given chunk size, or
// DefaultChunkSize when size is not positive.
func NewDecryptor(chunkSize int, log logger.Logger) *Decryptor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Decryptor{chunkSize: chunkSize, log: log}
}

// DecryptFile streams src through the XOR cipher into dst. The key is
// cycled continuously across chunk boundaries, not reset per chunk.
// Output goes to a temp file and is promoted only on success, so a
// failed run leaves no partial dst. XOR is its own inverse, so the same
// call encrypts.
func (d *Decryptor) DecryptFile(src, dst string, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: refusing to process %s", werrors.ErrEmptyKey, filepath.Base(src))
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open encrypted asset: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp output: %w", err)
	}

	buf := make([]byte, d.chunkSize)
	keyIndex := 0
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for i := range chunk {
				chunk[i] ^= key[keyIndex]
				keyIndex++
				if keyIndex == len(key) {
					keyIndex = 0
				}
			}
			if _, err := tmp.Write(chunk); err != nil {
				tmp.Close()
				os.Remove(tmp.Name())
				return fmt.Errorf("failed to write decrypted chunk: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to read encrypted asset: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finish decrypted output: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to promote decrypted output: %w", err)
	}
	return nil
}

// KeyLookup resolves an asset name to its stored base key.
type KeyLookup interface {
	Get(name string) (string, error)
}

// BatchResult reports a batch decrypt run.
type BatchResult struct {
	Decrypted []string
	Skipped   int
	Failed    map[string]error
}

// DecryptAssets decrypts each named asset from srcDir into dstDir. A
// missing key or unreadable input fails that asset only; the batch runs
// to completion and reports totals. Assets whose output already exists
// with a matching size are skipped unless force is set (the cipher
// preserves length). Cancellation stops between assets and returns the
// partial result alongside ctx.Err().
func (d *Decryptor) DecryptAssets(ctx context.Context, names []string, keys KeyLookup, srcDir, dstDir string, force bool) (*BatchResult, error) {
	res := &BatchResult{Failed: map[string]error{}}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		base, err := keys.Get(name)
		if err != nil {
			res.Failed[name] = err
			continue
		}

		src := filepath.Join(srcDir, filepath.FromSlash(name)+".unity3d")
		dst := filepath.Join(dstDir, filepath.FromSlash(name)+".unity3d")

		srcInfo, err := os.Stat(src)
		if err != nil {
			res.Failed[name] = fmt.Errorf("encrypted asset missing: %w", err)
			continue
		}
		if !force {
			if dstInfo, err := os.Stat(dst); err == nil && dstInfo.Size() == srcInfo.Size() {
				d.log.Debugf("already decrypted: %s", name)
				res.Skipped++
				continue
			}
		}

		if err := d.DecryptFile(src, dst, []byte(DeriveKey(base))); err != nil {
			res.Failed[name] = err
			continue
		}
		d.log.Infof("decrypted %s", name)
		res.Decrypted = append(res.Decrypted, name)
	}
	return res, nil
}
