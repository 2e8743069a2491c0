package extract

import (
	"context"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// Page is one browser tab. Element methods address the index-th match of
// a CSS selector in document order. Release closes the browser and makes
// any in-flight call fail.
type Page interface {
	job.ResourceHandle
	Navigate(ctx context.Context, url string) error
	Count(ctx context.Context, selector string) (int, error)
	Text(ctx context.Context, selector string, index int) (string, error)
	Click(ctx context.Context, selector string, index int) error
	// ClickButton clicks the first visible button whose text contains one
	// of texts, or whose id is id, and reports whether one was found.
	ClickButton(ctx context.Context, texts []string, id string) (bool, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Back(ctx context.Context) error
	ScrollToBottom(ctx context.Context) error
}

// Launcher starts a fresh browser session.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
