package article

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint is the hex encoded BLAKE3 keyed hash of a document's raw
// bytes. Equal fingerprints mean byte-identical content.
type Fingerprint string

// documentDomainKey is the ASCII domain name zero-padded to 32 bytes.
// Changing it invalidates every stored fingerprint.
var documentDomainKey = [32]byte{
	'c', 'o', 'r', 'p', 'u', 's', 's', 'y', 'n', 'c', '.',
	'd', 'o', 'c', 'u', 'm', 'e', 'n', 't',
}

// FingerprintOf hashes content.
func FingerprintOf(content []byte) Fingerprint {
	h, err := blake3.NewKeyed(documentDomainKey[:])
	if err != nil {
		panic("article: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(content)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 12 hex characters for log output.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
