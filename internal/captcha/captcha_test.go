package captcha

import (
	"bytes"
	"image/png"
	"strconv"
	"strings"
	"testing"
	"unicode"
)

func TestEquationAnswersFitTwoDigits(t *testing.T) {
	t.Parallel()

	for i := 0; i < 500; i++ {
		eq := NewEquation()
		answer, err := strconv.Atoi(eq.Answer)
		if err != nil {
			t.Fatalf("answer is not a number: %q", eq.Answer)
		}
		if answer < 0 || answer > 99 {
			t.Fatalf("answer out of range: %s = %d", eq.Question, answer)
		}

		parts := strings.Fields(eq.Question)
		if len(parts) != 3 {
			t.Fatalf("unexpected question: %q", eq.Question)
		}
		a, _ := strconv.Atoi(parts[0])
		b, _ := strconv.Atoi(parts[2])
		want := a + b
		if parts[1] == "-" {
			want = a - b
		}
		if want != answer {
			t.Fatalf("wrong answer for %q: %d", eq.Question, answer)
		}
	}
}

func TestImageIsDecodablePNG(t *testing.T) {
	t.Parallel()

	pngBytes, text, err := NewGenerator().GenerateImageChallenge()
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if len([]rune(text)) != imageTextLength {
		t.Fatalf("unexpected text length: %q", text)
	}
	for _, r := range text {
		if !unicode.IsLower(r) && !unicode.IsDigit(r) {
			t.Fatalf("unexpected rune %q in %q", r, text)
		}
	}

	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() <= img.Bounds().Dy() {
		t.Fatalf("unexpected image bounds: %v", img.Bounds())
	}
}
