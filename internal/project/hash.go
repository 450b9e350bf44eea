package project

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest - фиксированный 256 битный хеш содержимого
type Digest [32]byte

// Combine строит агрегированный хеш: H( content || dep1 || dep2 ... ).
// Порядок deps должен быть детерминированным.
func Combine(content Digest, deps ...Digest) Digest {
	h := sha256.New()
	_, _ = h.Write(content[:])
	for _, d := range deps {
		_, _ = h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// HashBytes returns the sha256 digest of data.
func HashBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// HashFile streams the file at path through sha256.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, err
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short is the first 12 hex characters, used in file names and traces.
func (d Digest) Short() string {
	return d.String()[:12]
}
