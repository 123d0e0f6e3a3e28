package pipeline

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	bindings := map[string]any{
		"items": []any{map[string]any{"json": map[string]any{"value": 5}}},
	}
	a := Fingerprint("python", "3.12.1", "result = items[0]['json']['value'] * 2", bindings)
	b := Fingerprint("python", "3.12.1", "result = items[0]['json']['value'] * 2", bindings)
	if a != b {
		t.Errorf("identical inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprintIgnoresFormattingNoise(t *testing.T) {
	a := Fingerprint("python", "3.12.1", "result = 1\n", nil)
	b := Fingerprint("python", "3.12.1", "result = 1  \r\n\n", nil)
	if a != b {
		t.Error("trailing whitespace and line endings changed the fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("python", "3.12.1", "result = 1", map[string]any{"x": 1})

	cases := map[string]string{
		"code":    Fingerprint("python", "3.12.1", "result = 2", map[string]any{"x": 1}),
		"context": Fingerprint("python", "3.12.1", "result = 1", map[string]any{"x": 2}),
		"runtime": Fingerprint("python", "3.13.0", "result = 1", map[string]any{"x": 1}),
	}
	for name, fp := range cases {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprintEmptyContext(t *testing.T) {
	a := Fingerprint("python", "3.12.1", "result = 1", nil)
	b := Fingerprint("python", "3.12.1", "result = 1", map[string]any{})
	// nil and empty serialize differently (null vs {}); both are stable, and
	// callers always pass the same shape for the same request.
	if a == "" || b == "" {
		t.Error("empty contexts must still fingerprint")
	}
}
