package scanning

import (
	"context"
	"errors"
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeEngine struct {
	raw    any
	err    error
	calls  int
	closed bool
}

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) (any, error) {
	f.calls++
	return f.raw, f.err
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("NewResult", func() {
	It("drops blank regions and joins the rest", func() {
		res := NewResult([]Region{
			{Text: "  카페 하나 "},
			{Text: "   "},
			{Text: "합계 4,500원", Confidence: 0.9},
		})
		Expect(res.Lines).To(Equal([]string{"카페 하나", "합계 4,500원"}))
		Expect(res.FullText).To(Equal("카페 하나\n합계 4,500원"))
		Expect(res.Regions).To(HaveLen(2))
		Expect(res.Regions[1].Confidence).To(Equal(0.9))
	})

	It("normalizes decomposed hangul to NFC", func() {
		res := NewResult([]Region{{Text: "\u1112\u1161\u11ab"}})
		Expect(res.Lines).To(Equal([]string{"\ud55c"}))
	})
})

var _ = Describe("Canonicalize", func() {
	It("accepts regions directly", func() {
		res := Canonicalize([]Region{{Text: "a"}, {Text: ""}, {Text: "b"}})
		Expect(res.Lines).To(Equal([]string{"a", "b"}))
	})

	It("re-canonicalizes a Result", func() {
		res := Canonicalize(&Result{Regions: []Region{{Text: " x "}}})
		Expect(res.Lines).To(Equal([]string{"x"}))
		Expect(Canonicalize((*Result)(nil)).Lines).To(BeEmpty())
	})

	It("falls back to the lines of a Result without regions", func() {
		res := Canonicalize(Result{Lines: []string{" 가맹점명 스타벅스 ", ""}})
		Expect(res.Lines).To(Equal([]string{"가맹점명 스타벅스"}))
		Expect(Canonicalize(&Result{Lines: []string{"a"}}).FullText).To(Equal("a"))
	})

	It("reads a flat recognition map with scores and polygons", func() {
		res := Canonicalize(map[string]any{
			"rec_texts":  []any{"가맹점명 본죽", "합계 9,000원"},
			"rec_scores": []any{0.98, 0.87},
			"rec_polys": []any{
				[]any{[]any{1.0, 2.0}, []any{30.0, 2.0}, []any{30.0, 12.0}, []any{1.0, 12.0}},
				[]any{[]any{1.0, 20.0}, []any{30.0, 20.0}, []any{30.0, 32.0}, []any{1.0, 32.0}},
			},
		})
		Expect(res.Lines).To(Equal([]string{"가맹점명 본죽", "합계 9,000원"}))
		Expect(res.Regions[0].Confidence).To(Equal(0.98))
		Expect(res.Regions[1].Polygon).To(Equal([]image.Point{{1, 20}, {30, 20}, {30, 32}, {1, 32}}))
	})

	It("expands flat boxes into rectangles", func() {
		res := Canonicalize(map[string]any{
			"rec_texts": []any{"a"},
			"dt_polys":  []any{[]any{1.0, 2.0, 5.0, 6.0}},
		})
		Expect(res.Regions[0].Polygon).To(Equal([]image.Point{{1, 2}, {5, 2}, {5, 6}, {1, 6}}))
	})

	It("finds the recognized lines nested deep in a serving response", func() {
		raw := map[string]any{
			"logId": "abc",
			"ocrResults": []any{
				map[string]any{
					"ocrImage": "base64...",
					"prunedResult": map[string]any{
						"model_settings": map[string]any{"use_doc_preprocessor": false},
						"rec_texts":      []any{"line one", "line two"},
						"rec_scores":     []any{0.5, 0.6},
					},
				},
			},
		}
		res := Canonicalize(raw)
		Expect(res.Lines).To(Equal([]string{"line one", "line two"}))
		Expect(res.FullText).To(Equal("line one\nline two"))
	})

	It("keeps searching past a rec_texts key with nothing usable", func() {
		res := Canonicalize(map[string]any{
			"a": map[string]any{"rec_texts": nil},
			"b": map[string]any{"rec_texts": []any{"합계 12,000원"}},
		})
		Expect(res.Lines).To(Equal([]string{"합계 12,000원"}))

		res = Canonicalize(map[string]any{
			"a": map[string]any{"rec_texts": []any{}},
			"b": []any{map[string]any{"rec_texts": []any{"x"}}},
		})
		Expect(res.Lines).To(Equal([]string{"x"}))
	})

	It("accepts a single string as the recognized text", func() {
		res := Canonicalize(map[string]any{"page": map[string]any{"rec_texts": "합계 9,000원"}})
		Expect(res.Lines).To(Equal([]string{"합계 9,000원"}))
	})

	It("skips non-string texts", func() {
		res := Canonicalize(map[string]any{"rec_texts": []any{"a", 42.0, nil, "b"}})
		Expect(res.Lines).To(Equal([]string{"a", "b"}))
	})

	DescribeTable("returns an empty result for unrecognizable shapes",
		func(raw any) {
			res := Canonicalize(raw)
			Expect(res.Lines).To(BeEmpty())
			Expect(res.FullText).To(BeEmpty())
		},
		Entry("nil", nil),
		Entry("a number", 3.14),
		Entry("a map without texts", map[string]any{"foo": map[string]any{"bar": []any{1.0}}}),
		Entry("an empty list", []any{}),
	)
})

var _ = Describe("Recognize", func() {
	It("canonicalizes the engine output", func() {
		eng := &fakeEngine{raw: map[string]any{"rec_texts": []any{"a"}}}
		res, err := Recognize(context.Background(), eng, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Lines).To(Equal([]string{"a"}))
	})

	It("wraps engine failures in ErrOCR without retrying", func() {
		eng := &fakeEngine{err: errors.New("model crashed")}
		_, err := Recognize(context.Background(), eng, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
		Expect(err).To(MatchError(ErrOCR))
		Expect(err).To(MatchError(ContainSubstring("model crashed")))
		Expect(eng.calls).To(Equal(1))
	})
})

var _ = Describe("NewEngineFactory", func() {
	It("builds a paddle engine by default", func() {
		factory, err := NewEngineFactory(EngineConfig{})
		Expect(err).NotTo(HaveOccurred())
		eng, err := factory()
		Expect(err).NotTo(HaveOccurred())
		Expect(eng).To(BeAssignableToTypeOf(&Paddle{}))
	})

	It("requires a gemini key", func() {
		_, err := NewEngineFactory(EngineConfig{Kind: EngineGemini})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown engines", func() {
		_, err := NewEngineFactory(EngineConfig{Kind: "abbyy"})
		Expect(err).To(MatchError(ContainSubstring("abbyy")))
	})
})
