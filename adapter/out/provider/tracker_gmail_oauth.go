package provider

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"tracker_server/core/port/out"
	"tracker_server/pkg/apperr"
)

// AuthCodeURL returns the consent URL. Offline access with a forced consent
// prompt makes Google issue a refresh token on every connect.
func (m *GmailMailbox) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (m *GmailMailbox) Exchange(ctx context.Context, code string) (*out.MailGrant, error) {
	clientCtx := m.clientContext(ctx)
	token, err := m.oauth.Exchange(clientCtx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, apperr.BadRequest("invalid authorization code").WithError(err)
		}
		return nil, apperr.ExternalError("google oauth", err)
	}

	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(token))
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	grant := &out.MailGrant{
		Email:        profile.EmailAddress,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		grant.ExpiresAt = &exp
	}
	m.log.Info().Str("email", profile.EmailAddress).Msg("gmail authorized")
	return grant, nil
}

var _ out.MailAuthorizer = (*GmailMailbox)(nil)
