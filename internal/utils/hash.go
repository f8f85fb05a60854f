package utils

import (
	"crypto/md5"
	"fmt"
	"io"
)

// BytesHash returns the hex MD5 of data
func BytesHash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// ReaderHash returns the hex MD5 of everything r yields
func ReaderHash(r io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
