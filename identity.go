package main

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Display names are adjective×noun pairs drawn at random. Duplicates are
// allowed; colors are the distinguishing mark and are guaranteed unique
// within a room.

var nameAdjectives = []string{
	"Amber", "Bold", "Clever", "Dapper", "Eager", "Fuzzy", "Gentle", "Hasty",
	"Jolly", "Keen", "Lucky", "Mellow", "Nimble", "Plucky", "Quirky", "Rosy",
	"Sly", "Tidy", "Vivid", "Witty",
}

var nameNouns = []string{
	"Badger", "Comet", "Dingo", "Ember", "Falcon", "Gecko", "Heron", "Ibis",
	"Jackal", "Koala", "Lemur", "Magpie", "Narwhal", "Otter", "Puffin",
	"Quokka", "Raven", "Sparrow", "Toucan", "Wombat",
}

// The base palette holds 8 visually-distinct colors. Once exhausted,
// extensions are generated by hue-rotating a base color in 30° steps.
var basePalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

func randomName() string {
	adj := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return adj + " " + noun
}

// allocateColor hands out an unused base color first, then hue-rotated
// variants at increasing rotations until an unused hex value is found.
func allocateColor(used map[string]bool) string {
	for _, c := range basePalette {
		if !used[strings.ToLower(c)] {
			return c
		}
	}

	for step := 1; step < 12; step++ {
		for _, base := range basePalette {
			c := rotateHue(base, float64(step)*30)
			if !used[strings.ToLower(c)] {
				return c
			}
		}
	}

	// Hue space exhausted; not expected at realistic room sizes.
	return basePalette[0]
}

func allocateIdentity(used map[string]bool) (string, string) {
	return randomName(), allocateColor(used)
}

// rotateHue shifts a hex color's hue by deg degrees, preserving
// saturation and lightness.
func rotateHue(hex string, deg float64) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return hex
	}

	h, s, l := rgbToHSL(r, g, b)
	h = math.Mod(h+deg, 360)
	if h < 0 {
		h += 360
	}

	nr, ng, nb := hslToRGB(h, s, l)
	return fmt.Sprintf("#%02x%02x%02x", nr, ng, nb)
}

func parseHex(hex string) (r, g, b float64, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}

	var ri, gi, bi int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &ri, &gi, &bi); err != nil {
		return 0, 0, 0, false
	}

	return float64(ri) / 255, float64(gi) / 255, float64(bi) / 255, true
}

func rgbToHSL(r, g, b float64) (h, s, l float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l = (max + min) / 2

	if max == min {
		return 0, 0, l
	}

	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}

	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	case b:
		h = (r-g)/d + 4
	}
	h *= 60

	return h, s, l
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	hk := h / 360
	rf := hueToRGB(p, q, hk+1.0/3)
	gf := hueToRGB(p, q, hk)
	bf := hueToRGB(p, q, hk-1.0/3)

	return uint8(math.Round(rf * 255)), uint8(math.Round(gf * 255)), uint8(math.Round(bf * 255))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}
