package identity

import (
	"encoding/base64"
	"encoding/json"
)

// MintDevCredential builds an unsigned credential that DecodeCredential
// accepts. It exists for the dev server and tests; real deployments receive
// credentials from the identity provider.
func MintDevCredential(ident Identity) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, _ := json.Marshal(ident)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".dev"
}
