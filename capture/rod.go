// CLAUDE:SUMMARY go-rod implementation of the capture Driver/Page: viewport emulation, cookie header, selector wait, hide script, clipped PNG screenshot.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapd/capture/internal/browser"
)

// BrowserConfig configures the Chrome instance launched by the rod driver.
type BrowserConfig = browser.Config

// RodDriver launches one Chrome per Open call. It is meant to be used inside
// a worker process that captures exactly one page.
type RodDriver struct {
	cfg browser.Config
}

// NewRodDriver creates a RodDriver.
func NewRodDriver(cfg BrowserConfig) *RodDriver {
	return &RodDriver{cfg: cfg}
}

// Open launches Chrome and returns a blank tab sized to vp.
func (d *RodDriver) Open(ctx context.Context, vp Viewport) (Page, error) {
	sess, err := browser.Launch(ctx, d.cfg)
	if err != nil {
		return nil, err
	}

	page, err := sess.NewPage()
	if err != nil {
		sess.Close()
		return nil, err
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		page.Close()
		sess.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	logger := d.cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &rodPage{sess: sess, page: page, logger: logger}, nil
}

type rodPage struct {
	sess         *browser.Session
	page         *rod.Page
	logger       *slog.Logger
	clearHeaders func()
}

func (p *rodPage) Navigate(ctx context.Context, url string, headers map[string]string) error {
	if len(headers) > 0 {
		dict := make([]string, 0, 2*len(headers))
		for k, v := range headers {
			dict = append(dict, k, v)
		}
		cleanup, err := p.page.SetExtraHeaders(dict)
		if err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
		p.clearHeaders = cleanup
	}

	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitSelector(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

const hideJS = `(selectors) => {
	for (const sel of selectors) {
		document.querySelectorAll(sel).forEach((el) => {
			el.style.setProperty('display', 'none', 'important');
		});
	}
}`

func (p *rodPage) Hide(ctx context.Context, selectors []string) error {
	if len(selectors) == 0 {
		return nil
	}
	if _, err := p.page.Context(ctx).Eval(hideJS, selectors); err != nil {
		return fmt.Errorf("hide elements: %w", err)
	}
	return nil
}

// clipJS returns the element's bounding box intersected with the visible
// viewport, in document coordinates.
const clipJS = `() => {
	const r = this.getBoundingClientRect();
	const vw = document.documentElement.clientWidth || window.innerWidth;
	const vh = document.documentElement.clientHeight || window.innerHeight;
	const left = Math.max(0, r.left);
	const top = Math.max(0, r.top);
	const right = Math.min(vw, r.right);
	const bottom = Math.min(vh, r.bottom);
	return {
		x: left + window.scrollX,
		y: top + window.scrollY,
		width: Math.max(0, right - left),
		height: Math.max(0, bottom - top),
	};
}`

type clipBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (p *rodPage) Capture(ctx context.Context, selector string) ([]byte, error) {
	pg := p.page.Context(ctx)
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}

	if selector != "" {
		els, err := pg.Elements(selector)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", selector, err)
		}
		if len(els) > 0 {
			el := els.First()
			if err := el.ScrollIntoView(); err != nil {
				return nil, fmt.Errorf("scroll %q: %w", selector, err)
			}
			res, err := el.Eval(clipJS)
			if err != nil {
				return nil, fmt.Errorf("measure %q: %w", selector, err)
			}
			var box clipBox
			if err := res.Value.Unmarshal(&box); err != nil {
				return nil, fmt.Errorf("measure %q: %w", selector, err)
			}
			if box.Width >= 1 && box.Height >= 1 {
				req.Clip = &proto.PageViewport{
					X:      box.X,
					Y:      box.Y,
					Width:  box.Width,
					Height: box.Height,
					Scale:  1,
				}
			} else {
				p.logger.Debug("capture: selector has no visible box, using viewport", "selector", selector)
			}
		} else {
			p.logger.Debug("capture: selector matched nothing, using viewport", "selector", selector)
		}
	}

	data, err := pg.Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func (p *rodPage) Close() error {
	if p.clearHeaders != nil {
		p.clearHeaders()
	}
	var err error
	if p.page != nil {
		err = p.page.Close()
	}
	if cerr := p.sess.Close(); err == nil {
		err = cerr
	}
	return err
}
