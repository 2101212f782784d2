package reader

import (
	"context"
	"fmt"
	"log/slog"
)

// AvailableBook is one book found on the catalog page.
type AvailableBook struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	CoverURL string `json:"coverUrl,omitempty"`
	Slug     string `json:"slug"`
	Category string `json:"category"`
}

// BookCategory groups the books under one shelf heading, in page order.
type BookCategory struct {
	Name  string          `json:"name"`
	Books []AvailableBook `json:"books"`
}

// Browse is the single-shot catalog flow: connect, log in, scrape the
// shelf listing, tear down. It shares the login primitives with the
// reading engine but has no pause or resume, and the browser session is
// always closed before returning, success or failure.
func Browse(ctx context.Context, factory DriverFactory, logger *slog.Logger, identifier, secret string) ([]BookCategory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id, err := normalizeCredentials(identifier, secret)
	if err != nil {
		return nil, err
	}

	driver, err := factory()
	if err != nil {
		return nil, fmt.Errorf("reader: browse: %w", err)
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil {
			logger.Warn("reader: browse teardown", "error", cerr)
		}
	}()

	if err := driver.Connect(ctx); err != nil {
		return nil, err
	}
	if err := driver.Login(ctx, DecomposeIdentifier(id), secret); err != nil {
		return nil, err
	}

	cats, err := driver.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("reader: catalog scraped", "categories", len(cats))
	return cats, nil
}
