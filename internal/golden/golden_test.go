package golden

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/visioncue/visioncue/internal/span"
)

func writeCorpus(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadResolvesQuotes(t *testing.T) {
	path := writeCorpus(t, "basic.json", `{
		"version": "v2",
		"prompts": [{
			"id": "p001",
			"text": "Shot on 35mm film at 24fps",
			"expected": [
				{"quote": "35mm", "category": "technical.filmFormat"},
				{"quote": "24fps", "category": "technical.frameRate"}
			]
		}]
	}`)

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(set.Prompts) != 1 {
		t.Fatalf("got %d prompts", len(set.Prompts))
	}
	p := set.Prompts[0]
	if len(p.Resolved) != 2 {
		t.Fatalf("got %d resolved spans", len(p.Resolved))
	}
	if p.Resolved[0].Start != 8 || p.Resolved[0].End != 12 || p.Resolved[0].Quote != "35mm" {
		t.Errorf("first span = %+v", p.Resolved[0])
	}
	if p.Resolved[1].Start != 21 || p.Resolved[1].Quote != "24fps" {
		t.Errorf("second span = %+v", p.Resolved[1])
	}
}

func TestLoadExplicitOffsets(t *testing.T) {
	path := writeCorpus(t, "offsets.json", `{
		"prompts": [{
			"id": "p001",
			"text": "slow pan across the valley",
			"expected": [
				{"start": 0, "end": 8, "quote": "slow pan", "category": "camera.movement"}
			]
		}]
	}`)

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := set.Prompts[0].Resolved[0]
	if s.Quote != "slow pan" || s.Category != span.CategoryCameraMovement {
		t.Errorf("span = %+v", s)
	}
}

func TestLoadOffsetQuoteMismatch(t *testing.T) {
	path := writeCorpus(t, "bad.json", `{
		"prompts": [{
			"id": "p001",
			"text": "slow pan across the valley",
			"expected": [
				{"start": 0, "end": 8, "quote": "slow tilt", "category": "camera.movement"}
			]
		}]
	}`)

	_, err := Load(path)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
}

func TestLoadQuoteNotFound(t *testing.T) {
	path := writeCorpus(t, "missing.json", `{
		"prompts": [{
			"id": "p001",
			"text": "a quiet meadow",
			"expected": [{"quote": "thunderstorm", "category": "environment.weather"}]
		}]
	}`)

	_, err := Load(path)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
	if ie.Prompt != "p001" || ie.Quote != "thunderstorm" {
		t.Errorf("error detail = %+v", ie)
	}
}

func TestLoadAmbiguousQuoteNeedsOccurrence(t *testing.T) {
	corpus := `{
		"prompts": [{
			"id": "p001",
			"text": "the dog chases the dog",
			"expected": [{"quote": "dog", "category": "subject.identity"%s}]
		}]
	}`

	// Without an occurrence index the load fails.
	path := writeCorpus(t, "ambig.json", fmt.Sprintf(corpus, ""))
	_, err := Load(path)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}

	// With one it resolves to the chosen occurrence.
	path = writeCorpus(t, "ambig2.json", fmt.Sprintf(corpus, `, "occurrence": 2`))
	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s := set.Prompts[0].Resolved[0]; s.Start != 19 {
		t.Errorf("occurrence 2 start = %d, want 19", s.Start)
	}

	// Out-of-range occurrence fails.
	path = writeCorpus(t, "ambig3.json", fmt.Sprintf(corpus, `, "occurrence": 3`))
	if _, err := Load(path); !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
}

func TestLoadUnknownCategory(t *testing.T) {
	path := writeCorpus(t, "cat.json", `{
		"prompts": [{
			"id": "p001",
			"text": "slow pan",
			"expected": [{"quote": "slow pan", "category": "vibes.general"}]
		}]
	}`)
	var ie *IntegrityError
	if _, err := Load(path); !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
}

func TestLoadMergesFilesAndRejectsDuplicateIDs(t *testing.T) {
	a := writeCorpus(t, "a.json", `{"prompts": [{"id": "p001", "text": "slow pan", "expected": []}]}`)
	b := writeCorpus(t, "b.json", `{"prompts": [{"id": "p002", "text": "dolly in", "expected": []}]}`)

	set, err := Load(a, b)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(set.Prompts) != 2 || len(set.Files) != 2 {
		t.Fatalf("prompts=%d files=%d", len(set.Prompts), len(set.Files))
	}

	dup := writeCorpus(t, "dup.json", `{"prompts": [{"id": "p001", "text": "tilt up", "expected": []}]}`)
	if _, err := Load(a, dup); err == nil {
		t.Error("duplicate prompt id accepted")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"a.json":   `{"prompts": [{"id": "p001", "text": "slow pan", "expected": []}]}`,
		"b.json":   `{"prompts": [{"id": "p002", "text": "dolly in", "expected": []}]}`,
		"skip.txt": `not a corpus`,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	set, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(set.Prompts) != 2 {
		t.Errorf("got %d prompts", len(set.Prompts))
	}
}

func TestLoadContextCarriedThrough(t *testing.T) {
	path := writeCorpus(t, "ctx.json", `{
		"prompts": [{
			"id": "p001",
			"text": "A lone astronaut explores the station",
			"context": {"subject": "lone astronaut"},
			"expected": [{"quote": "lone astronaut", "category": "subject"}]
		}]
	}`)
	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Prompts[0].Context.Subject != "lone astronaut" {
		t.Errorf("context = %+v", set.Prompts[0].Context)
	}
}
