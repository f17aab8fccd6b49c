package bot

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func noiseRGBA(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
			continue
		}
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

// splitRGBA is red on the left half and blue on the right
func splitRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, image.Rect(0, 0, w/2, h), &image.Uniform{color.RGBA{230, 10, 10, 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w/2, 0, w, h), &image.Uniform{color.RGBA{10, 10, 230, 255}}, image.Point{}, draw.Src)
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func f64(v float64) *float64 { return &v }

func TestColorRule(t *testing.T) {
	img := splitRGBA(40, 20)
	red := func(ratio float64, region []int) SceneRule {
		return SceneRule{
			Name: "red", Type: "color", Region: region,
			Lower: []int{200, 0, 0}, Upper: []int{255, 50, 50}, Ratio: f64(ratio),
		}
	}

	tests := []struct {
		name  string
		rule  SceneRule
		match bool
	}{
		{"half the frame at 0.5", red(0.5, nil), true},
		{"half the frame at 0.6", red(0.6, nil), false},
		{"left region at 1.0", red(1.0, []int{0, 0, 20, 20}), true},
		{"right region at 0.1", red(0.1, []int{20, 0, 20, 20}), false},
		{"region clamped at origin", red(1.0, []int{-5, -5, 15, 15}), true},
		{"region outside frame", red(0.0, []int{100, 100, 5, 5}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := NewSceneSet([]SceneRule{tt.rule}, "", nil, nil, nil)
			if err != nil {
				t.Fatalf("NewSceneSet: %v", err)
			}
			_, ok := set.Evaluate(img)
			if ok != tt.match {
				t.Errorf("match = %v, want %v", ok, tt.match)
			}
		})
	}
}

func TestFirstMatchingSceneWins(t *testing.T) {
	rules := []SceneRule{
		{Name: "green", Type: "color", Lower: []int{0, 200, 0}, Upper: []int{50, 255, 50}, Ratio: f64(0.1)},
		{Name: "blue", Type: "color", Lower: []int{0, 0, 200}, Upper: []int{50, 50, 255}, Ratio: f64(0.4)},
		{Name: "red", Type: "color", Lower: []int{200, 0, 0}, Upper: []int{255, 50, 50}, Ratio: f64(0.4)},
	}
	set, err := NewSceneSet(rules, "", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	s, ok := set.Evaluate(splitRGBA(40, 20))
	if !ok {
		t.Fatal("expected a scene")
	}
	if s.Name != "blue" {
		t.Errorf("scene = %s, want blue", s.Name)
	}
}

func TestSceneDefaults(t *testing.T) {
	set, err := NewSceneSet([]SceneRule{
		{Name: "any", Type: "COLOR"},
		{Type: "color"},
		{Name: "untyped"},
	}, "", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 1 {
		t.Fatalf("Len = %d, want 1", set.Len())
	}

	s := set.Scenes()[0]
	if s.Type != RuleColor || s.Ratio != DefaultSceneRatio || s.Cooldown != DefaultSceneCooldown {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.Upper != [3]uint8{255, 255, 255} {
		t.Errorf("Upper = %v", s.Upper)
	}
	// default bounds cover every pixel
	if _, ok := set.Evaluate(noiseRGBA(8, 8, 1)); !ok {
		t.Error("default color rule should match any frame")
	}
}

func TestSceneRuleErrors(t *testing.T) {
	tests := []struct {
		name string
		rule SceneRule
		want error
	}{
		{"unknown type", SceneRule{Name: "a", Type: "shape"}, ErrUnknownRuleType},
		{"bad bound", SceneRule{Name: "a", Type: "color", Lower: []int{0, 0}}, ErrInvalidBounds},
		{"bound out of range", SceneRule{Name: "a", Type: "color", Upper: []int{0, 0, 300}}, ErrInvalidBounds},
		{"missing template", SceneRule{Name: "a", Type: "template", Template: "nope.png"}, nil},
		{"empty template", SceneRule{Name: "a", Type: "template"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSceneSet([]SceneRule{tt.rule}, t.TempDir(), nil, nil, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadScenesTemplateRule(t *testing.T) {
	dir := t.TempDir()
	frame := noiseRGBA(60, 40, 11)
	patch := image.NewRGBA(image.Rect(0, 0, 24, 20))
	draw.Draw(patch, patch.Bounds(), frame, image.Pt(30, 15), draw.Src)
	writePNG(t, filepath.Join(dir, "button.png"), patch)

	yml := `
- name: button
  type: template
  template: button.png
  threshold: 0.85
  cooldown: 2.5
  action:
    type: click
    x: 3
    y: 4
    delay: 0
- name: elsewhere
  type: template
  template: button.png
  region: [0, 0, 40, 40]
`
	path := filepath.Join(dir, "scenes.yaml")
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadScenes(path, nil, nil, nil)
	if err != nil {
		t.Fatalf("LoadScenes: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}

	s, ok := set.Evaluate(frame)
	if !ok || s.Name != "button" {
		t.Fatalf("Evaluate = %v, %v; want button", s, ok)
	}
	if s.Cooldown.Seconds() != 2.5 {
		t.Errorf("Cooldown = %v", s.Cooldown)
	}
	if s.Action == nil || *s.Action.X != 3 {
		t.Errorf("Action = %+v", s.Action)
	}

	// the region cuts the patch off
	only, err := NewSceneSet([]SceneRule{{Name: "elsewhere", Type: "template", Template: "button.png", Region: []int{0, 0, 28, 40}}}, dir, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := only.Evaluate(frame); ok {
		t.Error("template outside the region should not match")
	}
}

func TestLoadScenesRejectsBadAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	yml := "- name: a\n  type: color\n  action:\n    type: teleport\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScenes(path, nil, nil, nil); err == nil {
		t.Fatal("expected an error for an unknown action type")
	}
}
