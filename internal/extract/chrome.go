package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// ErrElementNotFound is returned when an indexed element is missing.
var ErrElementNotFound = errors.New("element not found")

// ChromeConfig controls how browsers are started.
type ChromeConfig struct {
	Headless  bool
	UserAgent string
	ExecPath  string
}

// ChromeLauncher starts one Chrome process per session.
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

// NewChromeLauncher returns a launcher for cfg.
func NewChromeLauncher(cfg ChromeConfig, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

// Launch starts the browser and installs the automation masking script.
// ctx bounds only the start-up; the session lives until Release.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-search-engine-choice-screen", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(1366, 900),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Sugar().Debugf))

	p := &chromePage{tab: tabCtx, cancel: func() {
		tabCancel()
		allocCancel()
	}}

	// The first Run allocates the browser and must use the undecorated tab
	// context, since cancelling a derived one would close the browser.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx, l.setupAction())
	}()
	select {
	case err := <-started:
		if err != nil {
			p.cancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-ctx.Done():
		p.cancel()
		return nil, fmt.Errorf("start browser: %w", ctx.Err())
	}
	return p, nil
}

func (l *ChromeLauncher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := cdppage.AddScriptToEvaluateOnNewDocument(hideWebdriverJS).Do(ctx); err != nil {
			return fmt.Errorf("install webdriver mask: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

var _ Page = (*chromePage)(nil)

type chromePage struct {
	tab    context.Context
	cancel func()
	once   sync.Once
}

// Release closes the tab and kills the browser process.
func (p *chromePage) Release() error {
	var err error
	p.once.Do(func() {
		err = chromedp.Cancel(p.tab)
		p.cancel()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// run executes actions on the tab, bounded by ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return n, nil
}

func (p *chromePage) Text(ctx context.Context, selector string, index int) (string, error) {
	var text string
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelectorAll(%s)[%d];
		return el ? (el.innerText || "") : "";
	})()`, jsString(selector), index)
	if err := p.run(ctx, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("text %q[%d]: %w", selector, index, err)
	}
	return text, nil
}

func (p *chromePage) Click(ctx context.Context, selector string, index int) error {
	var found bool
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelectorAll(%s)[%d];
		if (!el) return false;
		el.scrollIntoView({block: "center"});
		el.click();
		return true;
	})()`, jsString(selector), index)
	if err := p.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return fmt.Errorf("click %q[%d]: %w", selector, index, err)
	}
	if !found {
		return fmt.Errorf("click %q[%d]: %w", selector, index, ErrElementNotFound)
	}
	return nil
}

func (p *chromePage) ClickButton(ctx context.Context, texts []string, id string) (bool, error) {
	needles, err := json.Marshal(texts)
	if err != nil {
		return false, fmt.Errorf("encode button texts: %w", err)
	}
	var clicked bool
	expr := fmt.Sprintf(`(() => {
		const needles = %s;
		const visible = (b) => !!(b.offsetWidth || b.offsetHeight || b.getClientRects().length);
		for (const b of document.querySelectorAll("button")) {
			const t = b.innerText || "";
			if ((b.id === %s || needles.some((n) => t.includes(n))) && visible(b)) {
				b.click();
				return true;
			}
		}
		return false;
	})()`, needles, jsString(id))
	if err := p.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return false, fmt.Errorf("click button: %w", err)
	}
	return clicked, nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return u, nil
}

func (p *chromePage) Back(ctx context.Context) error {
	if err := p.run(ctx, chromedp.Evaluate(`history.back()`, nil)); err != nil {
		return fmt.Errorf("back: %w", err)
	}
	return nil
}

func (p *chromePage) ScrollToBottom(ctx context.Context) error {
	if err := p.run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
