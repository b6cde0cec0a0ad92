package checks

import (
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// hashChunkSize is the read granularity for artifact hashing.
const hashChunkSize = 4 << 20

// HashFile computes the BLAKE3 digest of a file, read in 4 MiB chunks. The
// digest keys the check-result cache.
func HashFile(path string) (string, error) {
	const op = "checks.HashFile"

	f, err := os.Open(path)
	if err != nil {
		return "", atrerrors.IOWrap(err, op, "failed to open artifact")
	}
	defer f.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", atrerrors.IOWrap(err, op, "failed to read artifact")
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
