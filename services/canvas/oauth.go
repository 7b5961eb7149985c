package canvassvc

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

const (
	authPath  = "/login/oauth2/auth"
	tokenPath = "/login/oauth2/token"
)

// OAuth talks to the Canvas OAuth2 endpoints. Client credentials travel in the form body.
type OAuth struct {
	conf    *oauth2.Config
	client  *http.Client
	timeout time.Duration
}

var _ vault.TokenSource = (*OAuth)(nil)

func NewOAuth(conf *core.Config) *OAuth {
	base := strings.TrimRight(conf.Canvas.BaseURL, "/")
	return &OAuth{
		conf: &oauth2.Config{
			ClientID:     conf.Canvas.ClientID,
			ClientSecret: conf.Canvas.ClientSecret,
			RedirectURL:  conf.Canvas.RedirectURL,
			Scopes:       conf.Canvas.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + authPath,
				TokenURL:  base + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:  &http.Client{Timeout: conf.Canvas.Timeout},
		timeout: conf.Canvas.Timeout,
	}
}

func (o *OAuth) context(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	return context.WithTimeout(ctx, o.timeout)
}

func toVaultToken(tok *oauth2.Token) vault.Token {
	vt := vault.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		if secs := int(time.Until(tok.Expiry).Round(time.Second) / time.Second); secs > 0 {
			vt.ExpiresIn = secs
		}
	}
	return vt
}

// AuthCodeURL is the Canvas authorize URL the user is redirected to.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.conf.AuthCodeURL(state)
}

func (o *OAuth) Exchange(ctx context.Context, code string) (vault.Token, error) {
	ctx, cancel := o.context(ctx)
	defer cancel()

	tok, err := o.conf.Exchange(ctx, code)
	if err != nil {
		return vault.Token{}, errors.Wrap(err, "exchanging code")
	}
	return toVaultToken(tok), nil
}

func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (vault.Token, error) {
	ctx, cancel := o.context(ctx)
	defer cancel()

	tok, err := o.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return vault.Token{}, errors.Wrap(err, "refreshing token")
	}
	return toVaultToken(tok), nil
}
