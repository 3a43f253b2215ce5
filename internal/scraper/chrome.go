package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/mmeshcher/gophermart-payments/internal/config"
)

var errDownloadCanceled = errors.New("export download canceled")

// ChromeDriver реализует Driver поверх Chrome DevTools Protocol.
type ChromeDriver struct {
	cfg config.BrowserConfig

	browserCtx   context.Context
	cancelTab    context.CancelFunc
	cancelAlloc  context.CancelFunc
	downloadDone chan error
}

// NewChromeDriver создаёт драйвер. Браузер запускается в Open.
func NewChromeDriver(cfg config.BrowserConfig) *ChromeDriver {
	return &ChromeDriver{cfg: cfg}
}

// Open запускает браузер и разрешает загрузку файлов в downloadDir.
// Повторный вызов закрывает предыдущую сессию.
func (d *ChromeDriver) Open(ctx context.Context, downloadDir string) error {
	_ = d.Close()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.WindowSize(1366, 900),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelTab := chromedp.NewContext(allocCtx)

	d.browserCtx = browserCtx
	d.cancelTab = cancelTab
	d.cancelAlloc = cancelAlloc
	d.downloadDone = make(chan error, 1)

	// Первый Run запускает браузер, его время жизни привязано к browserCtx.
	stop := context.AfterFunc(ctx, cancelTab)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		_ = d.Close()
		return fmt.Errorf("start browser: %w", err)
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		e, ok := ev.(*browser.EventDownloadProgress)
		if !ok {
			return
		}
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			d.notifyDownload(nil)
		case browser.DownloadProgressStateCanceled:
			d.notifyDownload(errDownloadCanceled)
		}
	})

	err = d.run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		_ = d.Close()
		return fmt.Errorf("set download behavior: %w", err)
	}
	return nil
}

// Login открывает страницу входа и авторизуется.
func (d *ChromeDriver) Login(ctx context.Context) error {
	if err := d.run(ctx,
		chromedp.Navigate(d.cfg.LoginURL),
		chromedp.WaitVisible(d.cfg.LoginInputSelector, chromedp.ByQuery),
		chromedp.SendKeys(d.cfg.LoginInputSelector, d.cfg.Login, chromedp.ByQuery),
		chromedp.SendKeys(d.cfg.PasswordInputSelector, d.cfg.Password, chromedp.ByQuery),
		chromedp.Click(d.cfg.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(d.cfg.AuthorizedSelector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// OpenHistory переходит на страницу истории операций.
func (d *ChromeDriver) OpenHistory(ctx context.Context) error {
	if err := d.run(ctx,
		chromedp.Navigate(d.cfg.HistoryURL),
		chromedp.WaitVisible(d.cfg.HistorySelector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	return nil
}

// Export нажимает кнопку выгрузки и ждёт завершения загрузки.
func (d *ChromeDriver) Export(ctx context.Context) error {
	// Событие от предыдущей попытки не должно засчитываться.
	select {
	case <-d.downloadDone:
	default:
	}

	actions := []chromedp.Action{
		chromedp.WaitVisible(d.cfg.ExportSelector, chromedp.ByQuery),
		chromedp.Click(d.cfg.ExportSelector, chromedp.ByQuery),
	}
	if d.cfg.ExportFormatSelector != "" {
		actions = append(actions,
			chromedp.WaitVisible(d.cfg.ExportFormatSelector, chromedp.ByQuery),
			chromedp.Click(d.cfg.ExportFormatSelector, chromedp.ByQuery),
		)
	}
	if err := d.run(ctx, actions...); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	select {
	case err := <-d.downloadDone:
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("export: wait download: %w", ctx.Err())
	}
}

// Close завершает браузер.
func (d *ChromeDriver) Close() error {
	if d.cancelTab != nil {
		d.cancelTab()
		d.cancelTab = nil
	}
	if d.cancelAlloc != nil {
		d.cancelAlloc()
		d.cancelAlloc = nil
	}
	d.browserCtx = nil
	return nil
}

// run выполняет действия во вкладке браузера, пока жив ctx шага.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if d.browserCtx == nil {
		return errors.New("browser is not open")
	}

	runCtx, cancel := context.WithCancel(d.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (d *ChromeDriver) notifyDownload(err error) {
	select {
	case d.downloadDone <- err:
	default:
	}
}
