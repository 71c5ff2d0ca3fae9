package auth

import "strings"

var challengeEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Challenge builds the WWW-Authenticate value (RFC 6750 §3) for a request
// rejected with reason. An empty realm is omitted; resourceMetadataURL, when
// set, points clients at the RFC 9728 document.
func Challenge(realm, resourceMetadataURL string, reason Reason) string {
	var pieces []string
	if realm != "" {
		pieces = append(pieces, `realm="`+challengeEscaper.Replace(realm)+`"`)
	}
	if resourceMetadataURL != "" {
		pieces = append(pieces, `resource_metadata="`+challengeEscaper.Replace(resourceMetadataURL)+`"`)
	}
	if code := errorCode(reason); code != "" {
		pieces = append(pieces,
			`error="`+code+`"`,
			`error_description="`+challengeEscaper.Replace(reason.Message())+`"`,
		)
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// errorCode is empty when the request carried no bearer credentials at all.
func errorCode(r Reason) string {
	switch r {
	case ReasonMissingHeader, ReasonInvalidScheme:
		return ""
	case ReasonTokenMissing, ReasonMalformedHeader:
		return "invalid_request"
	default:
		return "invalid_token"
	}
}
