package funcs

import (
	"testing"

	"github.com/abdul-hamid-achik/chainspec/packages/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualifiedResolution(t *testing.T) {
	r := NewRegistry()
	r.RegisterSubst("helpers:token", func(kwargs map[string]any) (any, error) {
		return "T", nil
	})

	v, err := r.Subst("helpers:token", nil)
	require.NoError(t, err)
	assert.Equal(t, "T", v)

	_, err = r.Subst("other:token", nil)
	var berr *BindError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "other:token", berr.Name)
}

func TestBareResolution(t *testing.T) {
	r := NewRegistry()
	r.RegisterVerify("checks:is_ok", func(resp *http.Response, kwargs map[string]any) (bool, error) {
		return resp.StatusCode == 200, nil
	})

	ok, err := r.Verify("is_ok", &http.Response{StatusCode: 200}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBareResolutionAmbiguous(t *testing.T) {
	r := NewRegistry()
	fn := func(resp *http.Response, kwargs map[string]any) (bool, error) { return true, nil }
	r.RegisterVerify("a:check", fn)
	r.RegisterVerify("b:check", fn)

	_, err := r.Verify("check", &http.Response{}, nil)
	var berr *BindError
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, berr.Reason, "ambiguous")
}

func TestBareKeyExactWins(t *testing.T) {
	r := NewRegistry()
	r.RegisterSubst("value", func(kwargs map[string]any) (any, error) { return "bare", nil })
	r.RegisterSubst("mod:value", func(kwargs map[string]any) (any, error) { return "qualified", nil })

	v, err := r.Subst("value", nil)
	require.NoError(t, err)
	assert.Equal(t, "bare", v)
}

func TestSaveAndAuthArities(t *testing.T) {
	r := NewRegistry()
	r.RegisterSave("extract:ids", func(resp *http.Response, kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"limit": kwargs["limit"]}, nil
	})
	r.RegisterAuth("auth:bearer", func(kwargs map[string]any) (http.Authenticator, error) {
		return &http.BearerAuth{Token: kwargs["token"].(string)}, nil
	})

	out, err := r.Save("extract:ids", &http.Response{}, map[string]any{"limit": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, out["limit"])

	auth, err := r.Auth("auth:bearer", map[string]any{"token": "T"})
	require.NoError(t, err)
	assert.IsType(t, &http.BearerAuth{}, auth)
}
