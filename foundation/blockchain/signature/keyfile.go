package signature

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SaveKey writes the private key to file as 0x prefixed hex, with the scheme
// identifier as the first byte. The file is restricted to the owner.
func SaveKey(file string, key PrivateKey) error {
	data, err := key.MarshalBinary()
	if err != nil {
		return err
	}

	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, byte(key.scheme))
	buf = append(buf, data...)

	return os.WriteFile(file, []byte(hexutil.Encode(buf)), 0600)
}

// LoadKey reads a private key written by SaveKey.
func LoadKey(file string) (PrivateKey, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return PrivateKey{}, err
	}

	raw, err := hexutil.Decode(string(bytes.TrimSpace(content)))
	if err != nil {
		return PrivateKey{}, fmt.Errorf("decoding key file: %w", err)
	}

	if len(raw) < 2 {
		return PrivateKey{}, errors.New("key file too short")
	}

	return ParsePrivateKey(Scheme(raw[0]), raw[1:])
}
