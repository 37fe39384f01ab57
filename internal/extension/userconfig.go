package extension

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/smart-mcp-proxy/mcpctx/internal/secret"
)

// ErrUserConfigRequired indicates a required field was left empty
var ErrUserConfigRequired = errors.New("required user configuration missing")

// StoreUserConfig prepares user supplied values for a server record.
// Sensitive values go to the secret store under fresh keys and are replaced
// by ${secret:<id>} references; other values are kept as literals. Required
// fields without a value or default fail with ErrUserConfigRequired.
func (i *Installer) StoreUserConfig(ctx context.Context, manifest *Manifest, values map[string]string) (map[string]string, error) {
	for _, name := range manifest.FieldNames() {
		field := manifest.UserConfig[name]
		if _, hasDefault := field.DefaultValue(); field.Required && values[name] == "" && !hasDefault {
			return nil, errors.Wrapf(ErrUserConfigRequired, "field %q", name)
		}
	}

	out := make(map[string]string, len(values))
	var stored []string
	for _, name := range manifest.FieldNames() {
		value, ok := values[name]
		if !ok || value == "" {
			continue
		}

		if !manifest.UserConfig[name].Sensitive {
			out[name] = value
			continue
		}

		if i.secrets == nil {
			return nil, errors.Newf("no secret store for sensitive field %q", name)
		}
		ref := secret.NewRef()
		if err := i.secrets.Set(ctx, ref.Name, []byte(value)); err != nil {
			i.forgetSecrets(ctx, stored)
			return nil, errors.Wrapf(err, "storing sensitive field %q", name)
		}
		stored = append(stored, ref.Name)
		out[name] = ref.String()
	}

	// Values for fields the manifest does not declare are passed through.
	for name, value := range values {
		if _, declared := manifest.UserConfig[name]; !declared {
			out[name] = value
		}
	}

	i.logger.Debug("User configuration prepared",
		zap.String("extension", manifest.Name),
		zap.Int("fields", len(out)),
		zap.Int("secrets", len(stored)))
	return out, nil
}

// DiscardUserConfig removes the secrets referenced by a prepared user
// configuration. It undoes StoreUserConfig when the install does not complete.
func (i *Installer) DiscardUserConfig(ctx context.Context, userConfig map[string]string) {
	if i.secrets == nil {
		return
	}
	var keys []string
	for _, value := range userConfig {
		if !secret.IsRef(value) {
			continue
		}
		if ref, err := secret.ParseRef(value); err == nil {
			keys = append(keys, ref.Name)
		}
	}
	i.forgetSecrets(ctx, keys)
}

func (i *Installer) forgetSecrets(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := i.secrets.Delete(ctx, key); err != nil {
			i.logger.Warn("Failed to remove stored secret after error", zap.Error(err))
		}
	}
}

// IsUpdate reports whether candidate is newer than installed. Versions that
// are not semver count as an update whenever they differ.
func IsUpdate(installed, candidate string) bool {
	iv, cv := canonicalVersion(installed), canonicalVersion(candidate)
	if !semver.IsValid(iv) || !semver.IsValid(cv) {
		return installed != candidate
	}
	return semver.Compare(cv, iv) > 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
