package kind

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"document", Document, false},
		{"Documents", Document, false},
		{"vocabulary", Vocabulary, false},
		{"vocabularies", Vocabulary, false},
		{" note ", Note, false},
		{"highlights", Highlight, false},
		{"review", Review, false},
		{"video", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSizeEstimates(t *testing.T) {
	doc, _ := SpecFor(Document)
	if got := doc.Size(Payload{"title": "a", "file_size": float64(4096)}); got != 4096 {
		t.Errorf("document size = %d, want 4096", got)
	}
	if got := doc.Size(Payload{"title": "a"}); got != 1<<20 {
		t.Errorf("document fallback size = %d, want %d", got, 1<<20)
	}

	note, _ := SpecFor(Note)
	if got := note.Size(Payload{"content": "hello"}); got != 5 {
		t.Errorf("note size = %d, want 5", got)
	}
	if got := note.Size(Payload{}); got != 2048 {
		t.Errorf("note fallback size = %d, want 2048", got)
	}

	for _, k := range []Kind{Vocabulary, Highlight, Review} {
		s, _ := SpecFor(k)
		if got := s.Size(Payload{"file_size": 999999}); got != s.EstimatedSize {
			t.Errorf("%s size = %d, want fixed estimate %d", k, got, s.EstimatedSize)
		}
	}
}

func TestValidate(t *testing.T) {
	vocab, _ := SpecFor(Vocabulary)
	if err := vocab.Validate(Payload{"word": "ephemeral"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := vocab.Validate(Payload{}); err == nil {
		t.Error("expected error for missing word")
	}
	if err := vocab.Validate(Payload{"word": "  "}); err == nil {
		t.Error("expected error for blank word")
	}

	review, _ := SpecFor(Review)
	if err := review.Validate(nil); err != nil {
		t.Errorf("review has no required fields, got %v", err)
	}
}

func TestTitle(t *testing.T) {
	h, _ := SpecFor(Highlight)
	if got := h.Title(Payload{"text": "a quote"}); got != "a quote" {
		t.Errorf("Title = %q", got)
	}
	r, _ := SpecFor(Review)
	if got := r.Title(Payload{"item_id": float64(42)}); got != "42" {
		t.Errorf("Title = %q, want 42", got)
	}
}
