package auth

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// digestParamPattern matches key="value" and key=value forms. Devices are
// inconsistent about quoting (qop and nc frequently arrive bare), so both
// are accepted.
var digestParamPattern = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([^\s,]+))`)

// DigestParams are the fields parsed from a Digest Authorization header.
type DigestParams struct {
	Username string
	Realm    string
	Nonce    string
	URI      string
	Response string
	Opaque   string
	QOP      string
	NC       string
	CNonce   string
}

// ParseDigestParams parses the parameter list following the "Digest "
// prefix. Unknown keys are ignored; a later duplicate key wins, matching
// lenient server behavior.
func ParseDigestParams(value string) DigestParams {
	var params DigestParams
	for _, match := range digestParamPattern.FindAllStringSubmatch(value, -1) {
		key := strings.ToLower(match[1])
		val := match[2]
		if val == "" {
			val = match[3]
		}
		switch key {
		case "username":
			params.Username = val
		case "realm":
			params.Realm = val
		case "nonce":
			params.Nonce = val
		case "uri":
			params.URI = val
		case "response":
			params.Response = val
		case "opaque":
			params.Opaque = val
		case "qop":
			params.QOP = val
		case "nc":
			params.NC = val
		case "cnonce":
			params.CNonce = val
		}
	}
	return params
}

// complete reports whether every field the validation algorithm depends on
// is present.
func (p DigestParams) complete() bool {
	return p.Username != "" && p.Realm != "" && p.Nonce != "" && p.URI != "" && p.Response != ""
}

// ExpectedDigestResponse computes the response value the device must have
// produced for the given credentials and request method/URI.
//
// MD5 is mandated by the deployed CPE firmware this server talks to
// (RFC 2617 Digest); it is a wire-compatibility constraint, not a hash
// choice this code gets to make.
func ExpectedDigestResponse(credential Credential, params DigestParams, method string) string {
	ha1 := md5Hex(credential.Username + ":" + params.Realm + ":" + credential.Password)
	ha2 := md5Hex(method + ":" + params.URI)

	switch params.QOP {
	case "auth", "auth-int":
		return md5Hex(strings.Join([]string{ha1, params.Nonce, params.NC, params.CNonce, params.QOP, ha2}, ":"))
	default:
		// RFC 2069 compatibility mode for firmware that predates qop.
		return md5Hex(ha1 + ":" + params.Nonce + ":" + ha2)
	}
}

func md5Hex(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
