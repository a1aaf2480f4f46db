package protocol

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedTuple is returned when a tuple literal cannot be parsed.
var ErrMalformedTuple = errors.New("protocol: malformed tuple literal")

// Point is a floating point map position, written as "(x, y)".
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// String formats the point as a tuple literal, e.g. "(3.0, 4.0)".
func (p Point) String() string {
	return "(" + formatFloat(p.X) + ", " + formatFloat(p.Y) + ")"
}

// Cell is an integer grid index, written as "(x, y)".
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String formats the cell as a tuple literal, e.g. "(2, 7)".
func (c Cell) String() string {
	return "(" + strconv.Itoa(c.X) + ", " + strconv.Itoa(c.Y) + ")"
}

// ParsePoint parses a "(x, y)" literal with floating point components.
// Non-finite values are rejected.
func ParsePoint(s string) (Point, error) {
	xs, ys, err := splitTuple(s)
	if err != nil {
		return Point{}, err
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil || math.IsInf(x, 0) || math.IsNaN(x) {
		return Point{}, ErrMalformedTuple
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil || math.IsInf(y, 0) || math.IsNaN(y) {
		return Point{}, ErrMalformedTuple
	}
	return Point{X: x, Y: y}, nil
}

// ParseCell parses a "(x, y)" literal with integer components.
func ParseCell(s string) (Cell, error) {
	xs, ys, err := splitTuple(s)
	if err != nil {
		return Cell{}, err
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return Cell{}, ErrMalformedTuple
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Cell{}, ErrMalformedTuple
	}
	return Cell{X: x, Y: y}, nil
}

func splitTuple(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "", "", ErrMalformedTuple
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return "", "", ErrMalformedTuple
	}
	x := strings.TrimSpace(parts[0])
	y := strings.TrimSpace(parts[1])
	if x == "" || y == "" {
		return "", "", ErrMalformedTuple
	}
	return x, y, nil
}

// formatFloat renders f the way the desktop client writes floats: whole
// numbers keep a trailing ".0".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
