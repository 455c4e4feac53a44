package devices

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

const tokenPrefix = "dev_"

// Registration is returned once when a device is created. The token is never
// stored and cannot be recovered afterwards.
type Registration struct {
	Device *models.Device `json:"device"`
	Token  string         `json:"token"`
}

type Service struct {
	repo   Repository
	secret string
}

func NewService(repo Repository, secret string) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "device repository required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "device token secret required")
	}
	return &Service{repo: repo, secret: secret}, nil
}

// RegisterDevice mints a token for a new device of the tenant.
func (s *Service) RegisterDevice(ctx context.Context, tenantID uuid.UUID, name string) (*Registration, error) {
	name = strings.TrimSpace(name)
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required")
	}
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	token, err := newToken()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate device token")
	}
	device := &models.Device{
		TenantID:    tenantID,
		Name:        name,
		SecretHash:  HashToken(s.secret, token),
		HashVersion: models.DeviceHashHMAC,
		Enabled:     true,
		Status:      enums.DeviceStatusOffline,
	}
	if err := s.repo.Create(ctx, device); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "device name already registered for tenant")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create device")
	}
	return &Registration{Device: device, Token: token}, nil
}

// MarkOffline flags devices that have not authenticated since now-offlineAfter.
func (s *Service) MarkOffline(ctx context.Context, now time.Time, offlineAfter time.Duration) (int64, error) {
	if offlineAfter <= 0 {
		return 0, nil
	}
	n, err := s.repo.MarkOffline(ctx, now.UTC().Add(-offlineAfter))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark devices offline")
	}
	return n, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}
