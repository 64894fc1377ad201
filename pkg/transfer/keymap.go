package transfer

import "strings"

// MapKey derives the destination key for sourceKey.
//
// With flatten set, everything up to and including the first "/" is dropped
// ("a/b/c.txt" becomes "b/c.txt"); keys without a "/" are unchanged.
// outputFolder must already be normalized (see NormalizeOutputFolder) and is
// prepended as-is.
func MapKey(sourceKey string, flatten bool, outputFolder string) string {
	key := sourceKey
	if flatten {
		if i := strings.IndexByte(key, '/'); i >= 0 {
			key = key[i+1:]
		}
	}
	return outputFolder + key
}

// NormalizeOutputFolder converts a configured folder into a key prefix: forward
// slashes only, no leading slash, exactly one trailing slash. Blank input
// yields "".
func NormalizeOutputFolder(raw string) string {
	folder := strings.TrimSpace(raw)
	if folder == "" {
		return ""
	}
	folder = strings.ReplaceAll(folder, `\`, "/")
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return ""
	}
	return folder + "/"
}
