package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Go Programming Language", "the-go-programming-language"},
		{"Café crème brûlée", "cafe-creme-brulee"},
		{"  spaced   out  ", "spaced-out"},
		{"100% cotton (white)", "100-cotton-white"},
		{"already-slugged", "already-slugged"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Make(tc.in), "Make(%q)", tc.in)
	}
}
