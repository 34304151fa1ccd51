package auth

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// DeviceLogin runs the OAuth 2.0 device authorization grant and returns
// the resulting token. The verification URL and user code are written to
// out so the caller can complete the sign-in in a browser.
func DeviceLogin(ctx context.Context, conf *oauth2.Config, out io.Writer) (Token, error) {
	resp, err := conf.DeviceAuth(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("request device code: %w", err)
	}

	fmt.Fprintf(out, "To sign in, visit %s and enter the code %s\n", resp.VerificationURI, resp.UserCode)

	tok, err := conf.DeviceAccessToken(ctx, resp)
	if err != nil {
		return Token{}, fmt.Errorf("complete device sign-in: %w", err)
	}
	return fromOAuth2(tok), nil
}
