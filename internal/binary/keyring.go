package binary

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// maxKeyringSize caps how much of a keyring file is read.
const maxKeyringSize = 4 << 20

var armorHeader = []byte("-----BEGIN PGP")

// LoadKeyring reads an OpenPGP public keyring. Armored and binary
// encodings are told apart by the armor header.
func LoadKeyring(path string) (openpgp.EntityList, error) {
	if path == "" {
		return nil, fmt.Errorf("no keyring configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxKeyringSize+1))
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	if len(data) > maxKeyringSize {
		return nil, fmt.Errorf("keyring %s exceeds %d bytes", path, maxKeyringSize)
	}

	var ring openpgp.EntityList
	if bytes.HasPrefix(bytes.TrimSpace(data), armorHeader) {
		ring, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		ring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("parse keyring %s: %w", path, err)
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("keyring %s holds no keys", path)
	}
	return ring, nil
}
