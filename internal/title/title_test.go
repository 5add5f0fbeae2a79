package title

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank", "  \n\t ", ""},
		{"sentinel", "No text detected", ""},
		{"sentinel any case", "no TEXT detected here", ""},
		{"first three words", "Hello, World! Extra words here", "Hello, World Extra"},
		{"newlines collapse", "Invoice\n\n#123\n  Acme   Corp Ltd", "Invoice 123 Acme"},
		{"keeps dot and dash", "v1.2 - release notes", "v1.2 - release"},
		{"only symbols", "!!! ??? ###", ""},
		{"short text", "Receipt", "Receipt"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveTitle(tc.in))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, NoTextDetected, NormalizeText(""))
	assert.Equal(t, NoTextDetected, NormalizeText("   "))
	assert.Equal(t, NoTextDetected, NormalizeText("NO TEXT DETECTED"))
	assert.Equal(t, "Invoice #123", NormalizeText("  Invoice #123\n"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview("abc", 100))
	assert.Equal(t, "日本", Preview("日本語", 2))
}

func TestFormatText(t *testing.T) {
	assert.Equal(t, "HELLO WORLD", FormatText("hello world", StyleUppercase))
	assert.Equal(t, "hello world", FormatText("HELLO World", StyleLowercase))
	assert.Equal(t, "Hello World", FormatText("hELLO wORLD", StyleTitle))
	assert.Equal(t, "one two three\n\nfour", FormatText("one\ntwo\nthree\n\n\n\nfour", StyleParagraph))
	assert.Equal(t, "• milk\n• eggs", FormatText("milk\n\n  eggs  \n", StyleBullet))
	assert.Equal(t, "as is", FormatText("as is", Style("unknown")))
}
