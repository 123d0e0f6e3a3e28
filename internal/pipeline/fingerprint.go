package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
)

// fingerprintSchema versions the hash layout itself. Bump it whenever the
// fields below change so old cache entries turn into misses instead of wrong
// answers.
const fingerprintSchema = "v1"

// Fingerprint derives the cache key for one execution. It covers the runtime
// version alongside code and context, so an interpreter upgrade invalidates
// everything cached under the old one.
func Fingerprint(language, runtimeVersion, source string, bindings map[string]any) string {
	h := sha256.New()
	writeField(h, fingerprintSchema)
	writeField(h, language)
	writeField(h, runtimeVersion)
	writeField(h, normalizeSource(source))

	// json.Marshal sorts map keys at every level, so logically identical
	// bindings always serialize identically.
	ctx, err := json.Marshal(bindings)
	if err != nil {
		// Unencodable bindings would have failed the sandbox request anyway;
		// keep the fingerprint total by hashing the error text.
		ctx = []byte("!" + err.Error())
	}
	writeField(h, string(ctx))

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
	_, _ = w.Write([]byte{0})
}

// normalizeSource strips formatting noise that cannot change behavior: line
// ending style, trailing whitespace per line, and trailing blank lines.
func normalizeSource(source string) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
