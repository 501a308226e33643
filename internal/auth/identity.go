package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"fotobudka/internal/domain"
	"fotobudka/internal/storage"
)

// IdentityProvider resolves the external identity a new user registers with.
type IdentityProvider interface {
	ExternalID(ctx context.Context) (string, error)
}

const installIDKey = "install_id"

// InstallIdentity is a random id generated on first use and kept in the data directory.
type InstallIdentity struct {
	files *storage.FileStore
}

// NewInstallIdentity returns the default identity provider.
func NewInstallIdentity(files *storage.FileStore) *InstallIdentity {
	return &InstallIdentity{files: files}
}

func (p *InstallIdentity) ExternalID(ctx context.Context) (string, error) {
	raw, err := p.files.Read(installIDKey)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("auth: read install id: %w", err)
	}
	id := uuid.NewString()
	if _, err := p.files.Write(ctx, installIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("auth: persist install id: %w", err)
	}
	return id, nil
}

// profileIDFields is the ordered allow-list of paths that may carry the external id in a
// provider profile. Nothing outside this list is consulted.
var profileIDFields = []string{
	"external_id",
	"externalId",
	"user_id",
	"userId",
	"profile.id",
	"profile.user_id",
	"id",
}

// ExtractExternalID pulls the external id out of a loosely typed profile document. String and
// integer values are accepted; the first non-empty allow-listed field wins.
func ExtractExternalID(profile []byte) (string, bool) {
	if !gjson.ValidBytes(profile) {
		return "", false
	}
	for _, path := range profileIDFields {
		res := gjson.GetBytes(profile, path)
		switch res.Type {
		case gjson.String:
			if v := strings.TrimSpace(res.String()); v != "" {
				return v, true
			}
		case gjson.Number:
			if res.Num == float64(int64(res.Num)) {
				return res.Raw, true
			}
		}
	}
	return "", false
}

// ProfileIdentity reads the external id from a profile document exported by an external
// identity SDK.
type ProfileIdentity struct {
	path string
}

// NewProfileIdentity returns the alternate identity provider reading path.
func NewProfileIdentity(path string) *ProfileIdentity {
	return &ProfileIdentity{path: strings.TrimSpace(path)}
}

func (p *ProfileIdentity) ExternalID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.path == "" {
		return "", fmt.Errorf("%w: profile path not configured", domain.ErrNoIdentity)
	}
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("auth: read profile: %w", err)
	}
	id, ok := ExtractExternalID(raw)
	if !ok {
		return "", fmt.Errorf("%w: profile carries no usable id", domain.ErrNoIdentity)
	}
	return id, nil
}
