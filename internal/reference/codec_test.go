package reference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	refs := []Reference{
		PlanRef{PlanID: "a1b2c3d4", OwnerID: "e5f6a7b8"},
		ModuleRef{ModuleID: "a1b2c3d4", TenantID: "e5f6a7b8"},
		PlanRef{PlanID: "0b9f5c1e-7a61-4c5e-9d2b-3f0c6a8e1d42", OwnerID: "7c1d2e3f-4a5b-4c6d-8e9f-a0b1c2d3e4f5"},
		ModuleRef{ModuleID: Compact("9e8d7c6b-5a49-4382-9170-6f5e4d3c2b1a"), TenantID: "9e8d7c6b"},
	}
	for _, ref := range refs {
		compact, err := Encode(ref)
		require.NoError(t, err)
		decoded, err := Decode(compact)
		require.NoError(t, err)
		require.Equal(t, ref, decoded, "compact form %s", compact)

		legacy, err := EncodeLegacy(ref)
		require.NoError(t, err)
		decoded, err = Decode(legacy)
		require.NoError(t, err)
		require.Equal(t, ref, decoded, "legacy form %s", legacy)
	}
}

func TestEncodeForms(t *testing.T) {
	compact, err := Encode(ModuleRef{ModuleID: "a1b2c3d4", TenantID: "e5f6a7b8"})
	require.NoError(t, err)
	require.Equal(t, `{"t":"mod","m":"a1b2c3d4","tn":"e5f6a7b8"}`, compact)

	compact, err = Encode(PlanRef{PlanID: "a1b2c3d4", OwnerID: "e5f6a7b8"})
	require.NoError(t, err)
	require.Equal(t, `{"t":"plan","p":"a1b2c3d4","u":"e5f6a7b8"}`, compact)

	legacy, err := EncodeLegacy(PlanRef{PlanID: "a1b2c3d4", OwnerID: "e5f6a7b8"})
	require.NoError(t, err)
	require.Equal(t, "p:a1b2c3d4|u:e5f6a7b8", legacy)

	legacy, err = EncodeLegacy(ModuleRef{ModuleID: "a1b2c3d4", TenantID: "e5f6a7b8"})
	require.NoError(t, err)
	require.Equal(t, "m:a1b2c3d4|t:e5f6a7b8", legacy)

	_, err = Encode(PlanRef{PlanID: "", OwnerID: "e5f6a7b8"})
	require.ErrorIs(t, err, ErrMalformed)
	_, err = EncodeLegacy(ModuleRef{ModuleID: "a|b", TenantID: "e5f6a7b8"})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeLegacyAnyOrder(t *testing.T) {
	ref, err := Decode("t:e5f6a7b8|m:a1b2c3d4")
	require.NoError(t, err)
	require.Equal(t, ModuleRef{ModuleID: "a1b2c3d4", TenantID: "e5f6a7b8"}, ref)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":               "",
		"unknown kind":        `{"t":"addon","m":"a1b2c3d4","tn":"e5f6a7b8"}`,
		"missing field":       `{"t":"mod","m":"a1b2c3d4"}`,
		"empty field":         `{"t":"plan","p":"","u":"e5f6a7b8"}`,
		"mixed keys":          `{"t":"plan","p":"a1b2c3d4","tn":"e5f6a7b8"}`,
		"extra key":           `{"t":"plan","p":"a1b2c3d4","u":"e5f6a7b8","x":"1"}`,
		"duplicate key":       `{"t":"mod","m":"a1b2c3d4","m":"b1b2c3d4","tn":"e5f6a7b8"}`,
		"non string value":    `{"t":"mod","m":12345678,"tn":"e5f6a7b8"}`,
		"json but not object": `"p:a1b2c3d4|u:e5f6a7b8"`,
		"legacy mixed":        "p:a1b2c3d4|t:e5f6a7b8",
		"legacy one part":     "p:a1b2c3d4",
		"legacy duplicate":    "p:a1b2c3d4|p:e5f6a7b8",
		"legacy no colon":     "pa1b2c3d4|u:e5f6a7b8",
		"legacy empty value":  "m:|t:e5f6a7b8",
		"garbage":             "{not json",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(input)
			require.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestCompact(t *testing.T) {
	require.Equal(t, "0b9f5c1e", Compact("0b9f5c1e-7a61-4c5e-9d2b-3f0c6a8e1d42"))
	require.Equal(t, "abc", Compact(" abc "))
}
