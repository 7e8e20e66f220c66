package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var waveRunes = []rune("▁▂▃▄▅▆▇██▇▆▅▄▃▂▁")

// waveRows draws the ocean strip for animation phase t
func waveRows(width, height int, t float64) []string {
	if width <= 0 || height <= 0 {
		return nil
	}
	rows := make([]string, 0, height)
	for y := 0; y < height; y++ {
		var b strings.Builder
		for x := 0; x < width; x++ {
			w := math.Sin(float64(x)*0.1+t+float64(y)*0.5)*0.5 + math.Sin(float64(x)*0.2-t*1.5)*0.3
			idx := int((w + 1) * float64(len(waveRunes)-1) / 2)
			if idx < 0 {
				idx = 0
			} else if idx >= len(waveRunes) {
				idx = len(waveRunes) - 1
			}
			hue := math.Mod(float64(x)/float64(width)*360+t*50, 360)
			b.WriteString(lipgloss.NewStyle().Foreground(hsvColor(hue, 0.7, 0.8)).Render(string(waveRunes[idx])))
		}
		rows = append(rows, b.String())
	}
	return rows
}

func hsvColor(h, s, v float64) lipgloss.Color {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", int((r+m)*255), int((g+m)*255), int((b+m)*255)))
}

// Splash is the banner printed before the dashboard starts
func Splash(poolName string) string {
	shark := lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	name := lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true)
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)

	art := []string{
		"         ,",
		"       .';",
		"   .-'` .'",
		" ,'    `'        ",
		"`.  )  ;         ",
		"  `.  ,' ;",
		"    `'   ;",
		"    _)   )",
		"   /__,'`'",
		"  /   \\`",
		"  \\   /",
		"   \\ /",
		"    V",
	}
	var b strings.Builder
	for i, l := range art {
		b.WriteString(shark.Render(l))
		switch i {
		case 3:
			b.WriteString(name.Render(poolName))
		case 4:
			b.WriteString(sub.Render("Ergo Mining Dashboard"))
		}
		b.WriteString("\n")
	}
	return b.String()
}
