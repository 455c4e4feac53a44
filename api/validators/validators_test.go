package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

type periodRequest struct {
	PartnerID string `json:"partner_id" validate:"required,uuid"`
	Period    string `json:"period" validate:"required,datetime=2006-01"`
}

type optionalRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=20"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"partner_id":"nope","period":"2026/01"}`))
	var dest periodRequest
	err := DecodeJSONBody(req, &dest, false)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]string)
	assert.Equal(t, "must be a valid uuid", details["partner_id"])
	assert.Equal(t, "must match layout 2006-01", details["period"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"limit":1,"extra":true}`))
	var dest optionalRequest
	assert.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &dest, true), pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyAllowsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	var dest optionalRequest
	require.NoError(t, DecodeJSONBody(req, &dest, true))
	assert.Zero(t, dest.Limit)

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	assert.Error(t, DecodeJSONBody(req, &dest, false))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=7", nil)
	got, err := ParseQueryInt(req, "limit", 5, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	got, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/", nil), "limit", 5, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=50", nil), "limit", 5, 1, 20)
	assert.Error(t, err)
}

func TestParseUUIDParam(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	_, err := ParseUUIDParam(req, "id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
