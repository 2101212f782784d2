package reader

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/liseuse/reader/internal/pagescan"
	"github.com/hazyhaar/liseuse/reader/internal/resolver"
)

// Login authenticates against the site and ends inside the reading
// application. Field discovery leans entirely on the resolver's fallback
// chains; there is no step-level retry loop.
func (d *siteDriver) Login(ctx context.Context, identity Identity, secret string) error {
	if err := d.navigate(ctx, d.cfg.LoginURL); err != nil {
		return err
	}

	idField, err := resolver.Resolve(resolver.IntentIdentifierField, d.page)
	if err != nil {
		return &ElementNotFoundError{Intent: string(resolver.IntentIdentifierField)}
	}
	if err := idField.Input(identity.Body); err != nil {
		return fmt.Errorf("reader: fill identifier: %w", err)
	}

	d.fillCheckDigit(identity.CheckDigit, idField.ID())
	d.selectRegion(identity.Region)

	secretField, err := resolver.Resolve(resolver.IntentSecretField, d.page)
	if err != nil {
		return &ElementNotFoundError{Intent: string(resolver.IntentSecretField)}
	}
	if err := secretField.Input(secret); err != nil {
		return fmt.Errorf("reader: fill secret: %w", err)
	}

	wait := d.page.AwaitNavigation(d.cfg.LoginWait)
	d.submit(secretField)
	// Expiry of the wait is not a failure by itself. What matters is the
	// page actually landed on, checked below.
	wait()
	d.settle(ctx)

	if _, err := d.page.AdoptNewTab(ctx); err != nil {
		d.logger.Warn("reader: adopt tab after login", "error", err)
	}

	if err := d.checkLoginOutcome(ctx); err != nil {
		return err
	}
	return d.enterApplication(ctx)
}

// fillCheckDigit fills the separate check digit control when the page has
// one. The candidate scan must skip the identifier's element and accept
// only still-empty inputs, otherwise it would re-match the field the
// identifier just went into.
func (d *siteDriver) fillCheckDigit(digit, identifierID string) {
	if digit == "" {
		return
	}
	el, err := resolver.ResolveWith(resolver.IntentCheckDigitField, d.page, &resolver.Query{
		Exclude:     []string{identifierID},
		MustBeEmpty: true,
	})
	if err != nil {
		// Plenty of login variants fold the check digit into the main field.
		d.logger.Info("reader: no separate check digit field")
		return
	}
	if err := el.Input(digit); err != nil {
		d.logger.Warn("reader: fill check digit", "error", err)
	}
}

// selectRegion sets the region control. A native select takes the option
// by its text; a custom dropdown is opened with a click and the option
// picked by exact text. A missing control is tolerated.
func (d *siteDriver) selectRegion(region string) {
	el, err := resolver.Resolve(resolver.IntentRegionControl, d.page)
	if err != nil {
		d.logger.Info("reader: no region control")
		return
	}

	if tag, tagErr := el.Tag(); tagErr == nil && tag == "select" {
		if err := el.SelectOption(region); err != nil {
			d.logger.Warn("reader: select region", "region", region, "error", err)
		}
		return
	}

	if err := el.Click(); err != nil {
		d.logger.Warn("reader: open region dropdown", "error", err)
		return
	}
	opt, err := resolver.ByExactText(d.page, "li, option, span, div", region)
	if err != nil {
		d.logger.Warn("reader: region option not found", "region", region)
		return
	}
	if err := opt.Click(); err != nil {
		d.logger.Warn("reader: pick region option", "error", err)
	}
}

// submit activates the form: the resolved submit control when there is
// one, else the default activation key on the secret field.
func (d *siteDriver) submit(secretField resolver.Element) {
	if el, err := resolver.Resolve(resolver.IntentSubmit, d.page); err == nil {
		clickErr := el.Click()
		if clickErr == nil {
			return
		}
		d.logger.Warn("reader: submit click failed, pressing enter", "error", clickErr)
	}
	if err := secretField.PressEnter(); err != nil {
		d.logger.Warn("reader: press enter on secret field", "error", err)
	}
}

// checkLoginOutcome fails the run when the browser is still on a
// login-looking URL and the page carries a recognized failure marker.
// Best-effort in both directions: silent failures pass, and error-looking
// text unrelated to login can trip it.
func (d *siteDriver) checkLoginOutcome(ctx context.Context) error {
	url, err := d.page.URL()
	if err != nil {
		return fmt.Errorf("reader: read url after submit: %w", err)
	}
	if !looksLikeLoginURL(url, d.cfg.LoginURL) {
		return nil
	}

	doc, err := d.page.HTML(ctx)
	if err != nil {
		return fmt.Errorf("reader: read page after submit: %w", err)
	}
	if marker, found := pagescan.LoginFailure(doc); found {
		return &AuthenticationError{Marker: marker}
	}
	return nil
}

func looksLikeLoginURL(current, loginURL string) bool {
	cur := strings.ToLower(current)
	for _, tok := range []string{"login", "entrar", "signin", "sign-in", "auth"} {
		if strings.Contains(cur, tok) {
			return true
		}
	}
	base := strings.TrimRight(strings.ToLower(loginURL), "/")
	return base != "" && strings.TrimRight(cur, "/") == base
}

// enterApplication moves from the post-login landing page into the reading
// application, preferring the site's own navigation and falling back to
// the configured URL.
func (d *siteDriver) enterApplication(ctx context.Context) error {
	if el, err := resolver.Resolve(resolver.IntentAppEntry, d.page); err == nil {
		wait := d.page.AwaitNavigation(d.cfg.NavTimeout)
		clickErr := el.Click()
		if clickErr == nil {
			wait()
			d.settle(ctx)
			if _, err := d.page.AdoptNewTab(ctx); err != nil {
				d.logger.Warn("reader: adopt tab after app entry", "error", err)
			}
			return nil
		}
		d.logger.Warn("reader: app entry click failed, using direct url", "error", clickErr)
	}

	if d.cfg.AppURL == "" {
		return nil
	}
	return d.navigate(ctx, d.cfg.AppURL)
}
