package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# chart-patterns configuration

[reversal]
# Price column fed to the pivot detector: open, high, low, close.
# Leave empty to use close.
item = "close"
# Candles on each side a pivot must dominate.
back_candles = 5
forward_candles = 5
# Most recent pivots kept by the detector.
pivot_limit = 55
# Draw every zigzag pivot under the patterns.
show_pivots = false

[reversal.scan]
# Uncomment to override pattern thresholds.
# offset = 0
# min_periods_lapsed = 5
# flat_ratio = 0.1
# head_ratio = 0.15
# shoulder_symmetry = 0.3
# short_period = 5
# mid_period = 20
# long_period = 40
# calc_price_action = true

[chart]
width = 1600
height = 900
# Output format: png or svg
format = "png"

[data]
# Default exchange: NSE, BSE, NFO, MCX
exchange = "NSE"
# Candle interval: minute, 5minute, 15minute, 30minute, 60minute, day
timeframe = "day"
lookback_days = 365

[store]
# SQLite cache for candles and detected patterns.
# path = "~/.config/chart-patterns/data.db"
stale_after = "12h"

[log]
level = "info"
console = true
file = false
max_size = 50
max_backups = 5
max_age = 30
`

const credentialsTemplate = `# Kite Connect credentials
# KITE_API_KEY, KITE_API_SECRET and KITE_USER_ID override these values.

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
`

// writeTemplate writes a commented template for a missing config file.
func writeTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}

	return nil
}

// InitTemplates writes both templates into configDir. Existing files are
// kept unless force is set. It returns the paths written.
func InitTemplates(configDir string, force bool) ([]string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	files := []struct {
		name    string
		content string
		perm    os.FileMode
	}{
		{"config.toml", configTemplate, 0o644},
		{"credentials.toml", credentialsTemplate, 0o600},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(configDir, f.name)
		if _, err := os.Stat(path); err == nil && !force {
			continue
		}
		if err := writeTemplate(configDir, f.name, f.content, f.perm); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	return written, nil
}
