package auth

import "testing"

func TestChallenge(t *testing.T) {
	tests := []struct {
		name   string
		realm  string
		rm     string
		reason Reason
		want   string
	}{
		{
			name:   "no credentials",
			realm:  "demo-realm",
			reason: ReasonMissingHeader,
			want:   `Bearer realm="demo-realm"`,
		},
		{
			name:   "wrong scheme with metadata",
			realm:  "demo-realm",
			rm:     "https://api.example.com/.well-known/oauth-protected-resource",
			reason: ReasonInvalidScheme,
			want:   `Bearer realm="demo-realm", resource_metadata="https://api.example.com/.well-known/oauth-protected-resource"`,
		},
		{
			name:   "malformed header",
			realm:  "demo-realm",
			reason: ReasonMalformedHeader,
			want:   `Bearer realm="demo-realm", error="invalid_request", error_description="Invalid Header Format"`,
		},
		{
			name:   "expired",
			realm:  "demo-realm",
			reason: ReasonExpired,
			want:   `Bearer realm="demo-realm", error="invalid_token", error_description="Token is invalid or expired"`,
		},
		{
			name:   "no realm",
			reason: ReasonMissingHeader,
			want:   `Bearer`,
		},
		{
			name:   "quotes escaped",
			realm:  `a"b\c`,
			reason: ReasonMissingHeader,
			want:   `Bearer realm="a\"b\\c"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Challenge(tt.realm, tt.rm, tt.reason); got != tt.want {
				t.Fatalf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}
