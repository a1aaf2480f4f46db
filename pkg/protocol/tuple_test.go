package protocol

import (
	"errors"
	"testing"
)

func TestParsePoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Point
		wantErr bool
	}{
		{in: "(3.0, 4.0)", want: Point{X: 3, Y: 4}},
		{in: "(1,1)", want: Point{X: 1, Y: 1}},
		{in: "  ( -2.5 ,  0.125 ) ", want: Point{X: -2.5, Y: 0.125}},
		{in: "(1e3, 2)", want: Point{X: 1000, Y: 2}},
		{in: "3.0, 4.0", wantErr: true},
		{in: "(3.0)", wantErr: true},
		{in: "(1, 2, 3)", wantErr: true},
		{in: "(a, b)", wantErr: true},
		{in: "(nan, 1)", wantErr: true},
		{in: "(inf, 1)", wantErr: true},
		{in: "(, 1)", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		got, err := ParsePoint(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrMalformedTuple) {
				t.Errorf("ParsePoint(%q) error = %v, want ErrMalformedTuple", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePoint(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePoint(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		in      string
		want    Cell
		wantErr bool
	}{
		{in: "(2,2)", want: Cell{X: 2, Y: 2}},
		{in: "(10, -3)", want: Cell{X: 10, Y: -3}},
		{in: "(1.5, 2)", wantErr: true},
		{in: "[1, 2]", wantErr: true},
	}

	for _, tc := range tests {
		got, err := ParseCell(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrMalformedTuple) {
				t.Errorf("ParseCell(%q) error = %v, want ErrMalformedTuple", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCell(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseCell(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestTupleString(t *testing.T) {
	if s := (Point{X: 3, Y: 4.5}).String(); s != "(3.0, 4.5)" {
		t.Errorf("Point.String() = %q", s)
	}
	if s := (Cell{X: -1, Y: 0}).String(); s != "(-1, 0)" {
		t.Errorf("Cell.String() = %q", s)
	}
}
