package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/igwedaniel/sharkmon/internal/types"
)

// FormatHashrate scales h to an SI prefix with one decimal: 2e9 → "2.0 Gh/s"
func FormatHashrate(h float64) string {
	if math.IsNaN(h) || math.IsInf(h, 0) || h <= 0 {
		return "0.0 h/s"
	}
	value, prefix := humanize.ComputeSI(h)
	return fmt.Sprintf("%.1f %sh/s", value, prefix)
}

// FormatDifficulty prints network difficulty in peta units
func FormatDifficulty(d float64) string {
	return fmt.Sprintf("%.3f P", d/1e15)
}

// FormatAge prints a duration as its two largest units, e.g. "2 minutes 5 seconds"
func FormatAge(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d).LimitFirstN(2).String()
}

// FormatRelative prints t relative to now: "just now", "3 hours ago"
func FormatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	if now.Sub(t) < time.Minute && !t.After(now) {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatTimestamp prints t in UTC, or "Never" for the zero time
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// FormatAmount prints a coin amount with four decimals and thousands separators
func FormatAmount(v float64) string {
	return humanize.FormatFloat("#,###.####", v)
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws the last width samples as a bar strip
func Sparkline(samples []types.HashrateSample, width int) string {
	if len(samples) == 0 || width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	lo, hi := samples[0].Hashrate, samples[0].Hashrate
	for _, s := range samples[1:] {
		lo = math.Min(lo, s.Hashrate)
		hi = math.Max(hi, s.Hashrate)
	}
	var b strings.Builder
	for _, s := range samples {
		idx := 0
		if hi > lo {
			idx = int((s.Hashrate - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// Abbreviate shortens long addresses to their first and last n characters
func Abbreviate(s string, n int) string {
	if n <= 0 || len(s) <= 2*n+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}
