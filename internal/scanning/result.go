package scanning

import (
	"image"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Region is one recognized text line with its confidence and bounding polygon.
// The polygon is only used for visualization.
type Region struct {
	Text       string
	Confidence float64
	Polygon    []image.Point
}

// Result is the canonical OCR output: the non-empty recognized lines in engine
// order and their newline-joined text.
type Result struct {
	Lines    []string
	FullText string
	Regions  []Region
}

// NewResult builds a Result from regions, NFC-normalizing and trimming each text
// and dropping regions that end up empty.
func NewResult(regions []Region) Result {
	var res Result
	for _, r := range regions {
		r.Text = strings.TrimSpace(norm.NFC.String(r.Text))
		if r.Text == "" {
			continue
		}
		res.Lines = append(res.Lines, r.Text)
		res.Regions = append(res.Regions, r)
	}
	res.FullText = strings.Join(res.Lines, "\n")
	return res
}

// Canonicalize turns whatever an engine returned into a Result.
//
// Known typed shapes are converted directly. Anything else is searched, at any
// depth, for the first map carrying a "rec_texts" collection. When no such
// collection exists the empty Result is returned.
func Canonicalize(raw any) Result {
	switch v := raw.(type) {
	case Result:
		return fromResult(v)
	case *Result:
		if v == nil {
			return Result{}
		}
		return fromResult(*v)
	case []Region:
		return NewResult(v)
	case []string:
		return NewResult(textRegions(v))
	}

	if m, ok := findRecognized(raw, 0); ok {
		return NewResult(regionsFromMap(m))
	}
	return Result{}
}

// fromResult rebuilds r from its regions, or from its lines when it has none.
func fromResult(r Result) Result {
	if len(r.Regions) == 0 {
		return NewResult(textRegions(r.Lines))
	}
	return NewResult(r.Regions)
}

func textRegions(lines []string) []Region {
	regions := make([]Region, len(lines))
	for i, s := range lines {
		regions[i] = Region{Text: s}
	}
	return regions
}

// maxSearchDepth bounds the recovery walk on pathological inputs.
const maxSearchDepth = 32

func findRecognized(v any, depth int) (map[string]any, bool) {
	if depth > maxSearchDepth {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		// a rec_texts key holding nothing usable does not end the search
		if len(recTexts(t)) > 0 {
			return t, true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if m, ok := findRecognized(t[k], depth+1); ok {
				return m, true
			}
		}
	case []any:
		for _, item := range t {
			if m, ok := findRecognized(item, depth+1); ok {
				return m, true
			}
		}
	}
	return nil, false
}

func regionsFromMap(m map[string]any) []Region {
	texts := recTexts(m)
	scores := toSlice(m["rec_scores"])
	polys := toSlice(m["rec_polys"])
	if len(polys) == 0 {
		polys = toSlice(m["dt_polys"])
	}

	regions := make([]Region, 0, len(texts))
	for i, t := range texts {
		s, ok := t.(string)
		if !ok {
			continue
		}
		r := Region{Text: s}
		if i < len(scores) {
			r.Confidence = toFloat(scores[i])
		}
		if i < len(polys) {
			r.Polygon = toPolygon(polys[i])
		}
		regions = append(regions, r)
	}
	return regions
}

// recTexts returns the recognized texts of m. A lone string counts as one text.
func recTexts(m map[string]any) []any {
	if s, ok := m["rec_texts"].(string); ok {
		return []any{s}
	}
	return toSlice(m["rec_texts"])
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out
	}
	return nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// toPolygon accepts [[x, y], ...] and [x1, y1, x2, y2] boxes.
func toPolygon(v any) []image.Point {
	items := toSlice(v)
	if len(items) == 4 {
		if _, flat := items[0].(float64); flat {
			x1, y1 := int(toFloat(items[0])), int(toFloat(items[1]))
			x2, y2 := int(toFloat(items[2])), int(toFloat(items[3]))
			return []image.Point{{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}}
		}
	}
	var poly []image.Point
	for _, p := range items {
		xy := toSlice(p)
		if len(xy) < 2 {
			continue
		}
		poly = append(poly, image.Point{X: int(toFloat(xy[0])), Y: int(toFloat(xy[1]))})
	}
	return poly
}
