package theme

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

//go:embed palettes/*.gpl
var builtin embed.FS

type RGB [3]uint8

// Palette is an ordered list of colors read as a gradient from 0 to 1.
type Palette struct {
	Name   string
	Colors []RGB
}

// Builtin returns one of the palettes shipped in the binary, by name.
func Builtin(name string) (*Palette, error) {
	f, err := builtin.Open("palettes/" + name + ".gpl")
	if err != nil {
		return nil, fmt.Errorf("no builtin palette %q", name)
	}
	defer f.Close()
	return ParseGPL(f, name)
}

// Default is the builtin plasma palette.
func Default() *Palette {
	p, err := Builtin("plasma")
	if err != nil {
		panic(err)
	}
	return p
}

func LoadGPL(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseGPL(f, path)
}

// ParseGPL reads a GIMP palette. Lines that do not start with three numbers
// are headers or comments; a color component outside 0-255 is an error.
// source names the palette in errors.
func ParseGPL(r io.Reader, source string) (*Palette, error) {
	p := &Palette{}
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if name, ok := strings.CutPrefix(line, "Name:"); ok {
			p.Name = strings.TrimSpace(name)
			continue
		}
		c, ok, err := parseColor(strings.Fields(line))
		if err != nil {
			return nil, fmt.Errorf("palette %s line %d: %w", source, n, err)
		}
		if ok {
			p.Colors = append(p.Colors, c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(p.Colors) == 0 {
		return nil, fmt.Errorf("no colors found in palette %s", source)
	}
	return p, nil
}

// parseColor reads "R G B [name]". ok is false for lines that are not colors.
func parseColor(fields []string) (c RGB, ok bool, err error) {
	if len(fields) < 3 {
		return c, false, nil
	}
	for i := range c {
		v, convErr := strconv.Atoi(fields[i])
		if convErr != nil {
			return c, false, nil
		}
		if v < 0 || v > 255 {
			return c, false, fmt.Errorf("component %d out of range", v)
		}
		c[i] = uint8(v)
	}
	return c, true, nil
}

// Lookup returns the gradient color at norm, clamped to 0..1.
func (p *Palette) Lookup(norm float64) RGB {
	last := len(p.Colors) - 1
	pos := math.Max(0, math.Min(1, norm)) * float64(last)
	lo := int(pos)
	if lo >= last {
		return p.Colors[last]
	}
	t := pos - float64(lo)
	a, b := p.Colors[lo], p.Colors[lo+1]
	var out RGB
	for i := range out {
		out[i] = uint8(float64(a[i]) + (float64(b[i])-float64(a[i]))*t)
	}
	return out
}
