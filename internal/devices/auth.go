package devices

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

// HashToken returns the keyed hash stored for version 2 devices.
func HashToken(secret, token string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func legacyHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticator resolves bearer tokens presented by print devices.
type Authenticator struct {
	repo   Repository
	secret string
	logg   *logger.Logger
	now    func() time.Time
}

func NewAuthenticator(repo Repository, secret string, logg *logger.Logger) (*Authenticator, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "device repository required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "device token secret required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Authenticator{repo: repo, secret: secret, logg: logg, now: time.Now}, nil
}

// Authenticate matches the keyed hash first and falls back to the legacy
// digest, upgrading the stored hash when the fallback matches.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.Device, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device token required")
	}

	hash := HashToken(a.secret, token)
	device, err := a.repo.FindEnabledByHash(ctx, hash, models.DeviceHashHMAC)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		device, err = a.upgradeLegacy(ctx, token, hash)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid device token")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup device")
	}

	seen := a.now().UTC()
	if err := a.repo.Touch(ctx, device.ID, seen); err != nil {
		a.logg.Error(a.logg.WithDeviceID(ctx, device.ID.String()), "failed to record device heartbeat", err)
	} else {
		device.LastSeenAt = &seen
	}
	return device, nil
}

func (a *Authenticator) upgradeLegacy(ctx context.Context, token, hash string) (*models.Device, error) {
	legacy := legacyHash(token)
	device, err := a.repo.FindEnabledByHash(ctx, legacy, models.DeviceHashLegacy)
	if err != nil {
		return nil, err
	}
	upgraded, err := a.repo.UpgradeHash(ctx, device.ID, legacy, hash)
	if err != nil {
		return nil, err
	}
	if upgraded {
		a.logg.Info(a.logg.WithDeviceID(ctx, device.ID.String()), "device token hash upgraded")
	}
	device.SecretHash = hash
	device.HashVersion = models.DeviceHashHMAC
	return device, nil
}
