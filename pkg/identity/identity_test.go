package identity

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeCredential_RoundTripsDevCredential(t *testing.T) {
	want := Identity{Email: "a@x.com", Name: "Ada", Picture: "https://img/ada.png"}
	got, err := DecodeCredential(MintDevCredential(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeCredential_AcceptsPaddedPayload(t *testing.T) {
	payload := base64.URLEncoding.EncodeToString([]byte(`{"email":"a@x.com"}`))
	got, err := DecodeCredential("h." + payload + ".s")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", got.Email)
}

func TestDecodeCredential_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"no segments":   "not-a-jwt",
		"two segments":  "a.b",
		"bad base64":    "a.!!!.c",
		"not json":      "a." + base64.RawURLEncoding.EncodeToString([]byte("hello")) + ".c",
		"missing email": "a." + base64.RawURLEncoding.EncodeToString([]byte(`{"name":"Ada"}`)) + ".c",
	}
	for name, cred := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCredential(cred)
			require.ErrorIs(t, err, ErrMalformedCredential)
		})
	}
}

func TestBinding_SignInSignOut(t *testing.T) {
	b := NewBinding()
	require.False(t, b.SignedIn())

	ident, err := b.SignIn(MintDevCredential(Identity{Email: "a@x.com", Name: "Ada"}))
	require.NoError(t, err)
	require.Equal(t, "a@x.com", ident.Email)
	require.True(t, b.SignedIn())

	cur, ok := b.Current()
	require.True(t, ok)
	require.Equal(t, ident, cur)

	b.SignOut()
	require.False(t, b.SignedIn())
	_, ok = b.Current()
	require.False(t, ok)
}

func TestBinding_FailedSignInLeavesStateUntouched(t *testing.T) {
	b := NewBinding()
	_, err := b.SignIn(MintDevCredential(Identity{Email: "a@x.com"}))
	require.NoError(t, err)

	_, err = b.SignIn("garbage")
	require.ErrorIs(t, err, ErrMalformedCredential)
	require.True(t, b.SignedIn())

	cur, _ := b.Current()
	require.Equal(t, "a@x.com", cur.Email)
}
