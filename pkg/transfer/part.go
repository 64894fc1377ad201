package transfer

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// blockIDPrefix keeps every ID the same length, which the block service requires
// within one blob.
const blockIDPrefix = "BlockId"

// BlockID returns the block identifier for the 1-based part sequence number:
// base64 of "BlockId" followed by seq zero-padded to seven digits. All IDs have
// the same length, as the block list requires. The decoded IDs sort in
// sequence order up to 9,999,999 parts; the encoded IDs do not, so commit
// order comes from the manifest.
func BlockID(seq int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s%07d", blockIDPrefix, seq)))
}

// Fingerprint returns the MD5 digest of payload.
func Fingerprint(payload []byte) [16]byte {
	return md5.Sum(payload)
}

// EncodeFingerprint renders a digest the way the blob service reports
// Content-MD5.
func EncodeFingerprint(sum [16]byte) string {
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Plan returns the number of blocks a transfer of size bytes stages with the
// given part size.
func Plan(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 0
	}
	n := size / partSize
	if size%partSize != 0 {
		n++
	}
	return int(n)
}

// readPart fills buf from r, looping over short reads. It returns the number of
// bytes read, which is less than len(buf) only at end of stream. io.EOF is not
// an error; a zero count means the stream is exhausted.
func readPart(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}
