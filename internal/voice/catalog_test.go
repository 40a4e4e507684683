package voice

import "testing"

func TestResolveFallsBackToDefault(t *testing.T) {
	mapping := map[int]string{1: "en-Alice_woman", 3: "zh-Bowen_man"}
	voices := Resolve(mapping, []int{3, 1, 2}, "en-Maya_woman")
	want := []string{"en-Alice_woman", "en-Maya_woman", "zh-Bowen_man"}
	if len(voices) != len(want) {
		t.Fatalf("expected %d voices, got %d", len(want), len(voices))
	}
	for i := range want {
		if voices[i] != want[i] {
			t.Fatalf("voice %d: got %q, want %q", i, voices[i], want[i])
		}
	}
}

func TestResolveEmptyDefault(t *testing.T) {
	voices := Resolve(nil, []int{1}, "")
	if len(voices) != 1 || voices[0] != DefaultVoice {
		t.Fatalf("expected catalog default %q, got %v", DefaultVoice, voices)
	}
}

func TestLookup(t *testing.T) {
	if _, ok := Lookup("en-Carter_man"); !ok {
		t.Fatal("expected embedded voice en-Carter_man")
	}
	if _, ok := Lookup("nope"); ok {
		t.Fatal("expected lookup miss for unknown voice")
	}
}
