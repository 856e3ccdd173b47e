package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	recursiveremote "github.com/t7a/recursive-remote"
)

// ResolveKeyMaterial turns one of recursive-namespace-nacl-key or
// recursive-state-nacl-key's raw config values into an actual key.
// value is the raw text already read from git config (or an embedded
// config blob) for configKey, for a slot the caller has already
// determined is set (as opposed to absent, which means no
// encryption and never reaches this function):
//   - "file://PATH" reads (or, on first use, generates and writes) a
//     key file at PATH.
//   - "" generates a fresh key and persists its text encoding back
//     into git config under configKey.
//   - anything else is decoded as the text encoding produced by
//     EncodeKey.
func ResolveKeyMaterial(configKey Key, value string, r *Reader) (*recursiveremote.Key, error) {
	if strings.HasPrefix(value, "file://") {
		return resolveKeyFile(strings.TrimPrefix(value, "file://"))
	}
	if value == "" {
		return GenerateAndStoreInline(configKey, r)
	}
	k, err := recursiveremote.DecodeKey(value)
	if err != nil {
		return nil, errors.Wrap(err, "decode inline key material")
	}
	return &k, nil
}

// GenerateAndStoreInline creates a fresh key, writes its text
// encoding into git config under configKey for remoteName, and
// returns it. Resolve calls this only when the config value is the
// empty string; operators who want a file-backed key instead set the
// value to "file://PATH" up front.
func GenerateAndStoreInline(configKey Key, r *Reader) (*recursiveremote.Key, error) {
	k, err := recursiveremote.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	log.Infof("config: storing newly generated %s directly in git config", configKey)
	if err := r.Set(configKey, recursiveremote.EncodeKey(k)); err != nil {
		return nil, errors.Wrap(err, "persist generated key")
	}
	return &k, nil
}

func resolveKeyFile(path string) (*recursiveremote.Key, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		k, err := recursiveremote.DecodeKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, errors.Wrapf(err, "decode key material from %s", path)
		}
		return &k, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read key file %s", path)
	}

	log.Infof("config: generating new key file at %s", path)
	k, genErr := GenerateKeyFile(path)
	if genErr != nil {
		return nil, genErr
	}
	return k, nil
}

// GenerateKeyFile creates a fresh key and writes its text encoding to
// path, atomically (via renameio, so a crash mid-write never leaves a
// half-written key file that could later be misread), creating
// parent directories as needed. It is also exported directly for the
// admin CLI's standalone "keygen" command.
func GenerateKeyFile(path string) (*recursiveremote.Key, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	k, err := recursiveremote.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}
	if err := renameio.WriteFile(path, []byte(recursiveremote.EncodeKey(k)+"\n"), 0o600); err != nil {
		return nil, errors.Wrapf(err, "write key file %s", path)
	}
	return &k, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, ok := os.LookupEnv("HOME")
	if !ok {
		return "", errors.New("key path starts with ~/ but HOME is not set")
	}
	return filepath.Join(home, path[2:]), nil
}
