package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		flatten bool
		folder  string
		want    string
	}{
		{"unchanged", "a/b/c.txt", false, "", "a/b/c.txt"},
		{"flatten drops first segment", "a/b/c.txt", true, "", "b/c.txt"},
		{"flatten without slash", "c.txt", true, "", "c.txt"},
		{"flatten leading slash", "/c.txt", true, "", "c.txt"},
		{"folder prefix", "input/data.csv", false, "out/", "out/input/data.csv"},
		{"folder and flatten", "input/data.csv", true, "out/", "out/data.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapKey(tt.key, tt.flatten, tt.folder))
		})
	}
}

func TestNormalizeOutputFolder(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"/", ""},
		{"out", "out/"},
		{"/out", "out/"},
		{"out/", "out/"},
		{"//out//", "out/"},
		{`out\nested`, "out/nested/"},
		{`\out\`, "out/"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOutputFolder(tt.raw))
		})
	}
}

func TestMapKey_FolderAppliedOnce(t *testing.T) {
	for _, raw := range []string{"out", "/out", "out/", "/out/"} {
		assert.Equal(t, "out/data.csv", MapKey("input/data.csv", true, NormalizeOutputFolder(raw)))
	}
}
