package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpecRoundTripKeepsVariant(t *testing.T) {
	specs := []SourceSpec{
		PdfSpec{FileKey: "abc.pdf", FileName: "report.pdf"},
		URLSpec{Address: "https://example.com/doc"},
		PostgresSpec{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d"},
	}
	for _, spec := range specs {
		raw, err := EncodeSpec(spec)
		require.NoError(t, err)
		decoded, err := DecodeSpec(spec.Type(), raw)
		require.NoError(t, err)
		require.Equal(t, spec, decoded)
	}
}

func TestDecodeSpecUnknownType(t *testing.T) {
	_, err := DecodeSpec("ftp", []byte(`{}`))
	require.Error(t, err)
}

func TestSpecValidate(t *testing.T) {
	require.Error(t, PdfSpec{}.Validate())
	require.Error(t, URLSpec{Address: "ftp://x"}.Validate())
	require.Error(t, URLSpec{Address: "/relative"}.Validate())
	require.NoError(t, URLSpec{Address: "http://example.com"}.Validate())
	require.Error(t, PostgresSpec{Host: "h"}.Validate())
	require.Error(t, PostgresSpec{Host: "h", User: "u", Database: "d", Port: 70000}.Validate())
}

func TestRedactedMasksPassword(t *testing.T) {
	src := &Source{Type: SourceTypePostgres, Spec: PostgresSpec{Host: "h", User: "u", Password: "secret", Database: "d"}}
	out := src.Redacted()
	require.Equal(t, "******", out.Spec.(PostgresSpec).Password)
	require.Equal(t, "secret", src.Spec.(PostgresSpec).Password)
}
