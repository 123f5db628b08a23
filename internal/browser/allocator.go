package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/batchpilot/internal/config"
)

// allocatorFlag is a command-line switch passed to Chrome.
type allocatorFlag struct {
	Name  string
	Value interface{}
}

// allocatorFlags translates the browser configuration into Chrome switches.
func allocatorFlags(cfg config.BrowserConfig) []allocatorFlag {
	flags := []allocatorFlag{
		{Name: "no-sandbox", Value: true},
		{Name: "disable-dev-shm-usage", Value: true},
		{Name: "headless", Value: cfg.Headless},
	}
	if cfg.Headless {
		flags = append(flags,
			allocatorFlag{Name: "hide-scrollbars", Value: true},
			allocatorFlag{Name: "mute-audio", Value: true},
		)
	}
	if cfg.DisableCache {
		flags = append(flags,
			allocatorFlag{Name: "disk-cache-size", Value: "1"},
			allocatorFlag{Name: "media-cache-size", Value: "1"},
			allocatorFlag{Name: "disable-cache", Value: true},
		)
	}
	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			allocatorFlag{Name: "ignore-certificate-errors", Value: true},
			allocatorFlag{Name: "allow-insecure-localhost", Value: true},
		)
	}

	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags = append(flags, allocatorFlag{Name: key, Value: value})
		} else {
			flags = append(flags, allocatorFlag{Name: key, Value: true})
		}
	}
	return flags
}

// DefaultAllocatorOptions builds the exec allocator options for a batch browser.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
